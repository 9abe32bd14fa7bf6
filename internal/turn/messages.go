package turn

import (
	"encoding/json"

	"kaioken/internal/model"
	"kaioken/internal/tools"
	"kaioken/internal/types"
)

// buildMessages replays a session's item log into the message list the
// model sees on the next request: user/assistant messages verbatim, each
// completed tool call as a "tool" role message carrying its output so the
// model can observe the result without the turn engine tracking pending
// results separately.
func buildMessages(items []types.Item) []model.Message {
	var out []model.Message
	for _, it := range items {
		switch it.Kind {
		case types.ItemUserMessage:
			out = append(out, model.Message{Role: "user", Content: it.UserMessage})
		case types.ItemAssistantMessage:
			out = append(out, model.Message{Role: "assistant", Content: it.AssistantMessage})
		case types.ItemToolCall:
			if it.ToolCall != nil && it.ToolCall.Completed {
				content := it.ToolCall.Output
				if it.ToolCall.Err != "" {
					content = it.ToolCall.Err
				}
				out = append(out, model.Message{Role: "tool", Content: content, ToolCallID: it.ToolCall.CallID})
			}
		}
	}
	return out
}

// toolDefinitions adapts every registered tool's schema into the
// provider-agnostic model.ToolDefinition shape, marshaling through JSON
// since both Schema and the wire tool-definition format are plain
// JSON-tagged structs.
func toolDefinitions(reg *tools.Registry) ([]model.ToolDefinition, error) {
	var defs []model.ToolDefinition
	for _, t := range reg.All() {
		schemaMap, err := schemaToMap(t.Schema)
		if err != nil {
			return nil, err
		}
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaMap,
		})
	}
	return defs, nil
}

func schemaToMap(schema tools.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
