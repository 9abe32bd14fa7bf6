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

// OpenAIClient implements model.Client against the chat completions API,
// grounded on the teacher's client_openai.go: same base URL, bearer auth,
// and SSE "data:"-line scanning, generalized to also decode streamed
// tool_calls deltas (the teacher's CompleteWithStreaming only forwarded
// delta.content since it never needed tool calls mid-stream).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    rateLimiter
}

func NewOpenAIClient(apiKey, modelName string, httpClient *http.Client) *OpenAIClient {
	if modelName == "" {
		modelName = "gpt-5.1-codex-max"
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1",
		model:      modelName,
		httpClient: httpClient,
	}
}

type openAIMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type openAIFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []openAIMessage      `json:"messages"`
	Tools         []openAITool         `json:"tools,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
}

func openAIMessages(msgs []model.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "tool":
			out = append(out, openAIMessage{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID})
		default:
			out = append(out, openAIMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func openAITools(defs []model.ToolDefinition) []openAITool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openAITool, len(defs))
	for i, d := range defs {
		out[i] = openAITool{Type: "function", Function: openAIFunctionDef{Name: d.Name, Description: d.Description, Parameters: d.Schema}}
	}
	return out
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("modelclient: openai API key not configured")
	}

	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	body := openAIRequest{
		Model:         modelName,
		Messages:      openAIMessages(req.Messages),
		Tools:         openAITools(req.Tools),
		Stream:        true,
		StreamOptions: &openAIStreamOptions{IncludeUsage: true},
	}

	resp, err := postJSON(ctx, c.httpClient, &c.limiter, c.baseURL+"/chat/completions", body, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan model.StreamEvent, 64)
	go c.consume(ctx, resp.Body, out)
	return out, nil
}

func (c *OpenAIClient) consume(ctx context.Context, body io.ReadCloser, out chan<- model.StreamEvent) {
	defer close(out)
	defer body.Close()

	pending := map[int]*pendingToolCall{}
	var order []int

	flush := func() {
		for _, idx := range order {
			pc := pending[idx]
			if pc == nil {
				continue
			}
			args := map[string]any{}
			if raw := pc.args.String(); raw != "" {
				_ = json.Unmarshal([]byte(raw), &args)
			}
			sendEvent(ctx, out, model.StreamEvent{Kind: model.EventToolCall, ToolCall: &model.ToolCall{ID: pc.id, Name: pc.name, Arguments: args}})
		}
		pending = map[int]*pendingToolCall{}
		order = nil
	}

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
		if data == "[DONE]" {
			flush()
			sendEvent(ctx, out, model.StreamEvent{Kind: model.EventDone})
			return
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			sendEvent(ctx, out, model.StreamEvent{Kind: model.EventError, Err: fmt.Errorf("%s", chunk.Error.Message)})
			return
		}
		if chunk.Usage != nil {
			sendEvent(ctx, out, model.StreamEvent{Kind: model.EventUsage, Usage: &model.UsageMetadata{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}})
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if !sendEvent(ctx, out, model.StreamEvent{Kind: model.EventTextDelta, TextDelta: delta.Content}) {
				return
			}
		}
		for _, tc := range delta.ToolCalls {
			pc, ok := pending[tc.Index]
			if !ok {
				pc = &pendingToolCall{id: tc.ID, name: tc.Function.Name}
				pending[tc.Index] = pc
				order = append(order, tc.Index)
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
		if chunk.Choices[0].FinishReason != nil {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		sendEvent(ctx, out, model.StreamEvent{Kind: model.EventError, Err: err})
		return
	}
	flush()
	sendEvent(ctx, out, model.StreamEvent{Kind: model.EventDone})
}
