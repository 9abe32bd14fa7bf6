package modelclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"kaioken/internal/model"
)

// AnthropicClient implements model.Client against the Messages API,
// grounded on the teacher's client_anthropic.go: same base URL, same
// anthropic-version header, same rate limiter and retry-on-429/5xx loop,
// generalized from single-shot completions to the turn engine's
// incremental StreamEvent contract.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    rateLimiter
}

func NewAnthropicClient(apiKey, modelName string, httpClient *http.Client) *AnthropicClient {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250514"
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com/v1",
		model:      modelName,
		httpClient: httpClient,
	}
}

type anthropicMessage struct {
	Role    string                `json:"role"`
	Content []anthropicContentBlk `json:"content"`
}

type anthropicContentBlk struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	Messages  []anthropicMessage  `json:"messages"`
	Tools     []anthropicTool     `json:"tools,omitempty"`
	Stream    bool                `json:"stream"`
}

func anthropicMessages(msgs []model.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "tool":
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicContentBlk{
				{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
			}})
		case "assistant":
			out = append(out, anthropicMessage{Role: "assistant", Content: []anthropicContentBlk{{Type: "text", Text: m.Content}}})
		default:
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicContentBlk{{Type: "text", Text: m.Content}}})
		}
	}
	return out
}

func anthropicTools(defs []model.ToolDefinition) []anthropicTool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropicTool, len(defs))
	for i, d := range defs {
		out[i] = anthropicTool{Name: d.Name, Description: d.Description, InputSchema: d.Schema}
	}
	return out
}

// anthropicEvent covers the handful of SSE event shapes Stream cares
// about; fields irrelevant to a given type are left zero.
type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta,omitempty"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type pendingToolCall struct {
	id, name string
	args     strings.Builder
}

func (c *AnthropicClient) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("modelclient: anthropic API key not configured")
	}

	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: 8192,
		Messages:  anthropicMessages(req.Messages),
		Tools:     anthropicTools(req.Tools),
		Stream:    true,
	}
	if body.Model == "" {
		body.Model = c.model
	}

	resp, err := postJSON(ctx, c.httpClient, &c.limiter, c.baseURL+"/messages", body, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return nil, err
	}

	out := make(chan model.StreamEvent, 64)
	go c.consume(ctx, resp.Body, out)
	return out, nil
}

func (c *AnthropicClient) consume(ctx context.Context, body io.ReadCloser, out chan<- model.StreamEvent) {
	defer close(out)
	defer body.Close()

	pending := map[int]*pendingToolCall{}
	var inputTokens int

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				inputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				pending[ev.Index] = &pendingToolCall{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if !sendEvent(ctx, out, model.StreamEvent{Kind: model.EventTextDelta, TextDelta: ev.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if pc, ok := pending[ev.Index]; ok {
					pc.args.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if pc, ok := pending[ev.Index]; ok {
				delete(pending, ev.Index)
				args := map[string]any{}
				if raw := pc.args.String(); raw != "" {
					_ = json.Unmarshal([]byte(raw), &args)
				}
				if !sendEvent(ctx, out, model.StreamEvent{Kind: model.EventToolCall, ToolCall: &model.ToolCall{ID: pc.id, Name: pc.name, Arguments: args}}) {
					return
				}
			}
		case "message_delta":
			if ev.Usage != nil {
				sendEvent(ctx, out, model.StreamEvent{Kind: model.EventUsage, Usage: &model.UsageMetadata{
					InputTokens:  inputTokens,
					OutputTokens: ev.Usage.OutputTokens,
					TotalTokens:  inputTokens + ev.Usage.OutputTokens,
				}})
			}
		case "error":
			msg := "anthropic stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			sendEvent(ctx, out, model.StreamEvent{Kind: model.EventError, Err: fmt.Errorf("%s", msg)})
			return
		case "message_stop":
			sendEvent(ctx, out, model.StreamEvent{Kind: model.EventDone})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		sendEvent(ctx, out, model.StreamEvent{Kind: model.EventError, Err: err})
		return
	}
	sendEvent(ctx, out, model.StreamEvent{Kind: model.EventDone})
}

