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

// GeminiClient implements model.Client against the
// streamGenerateContent?alt=sse endpoint, grounded on the teacher's
// CompleteWithStreaming in client_gemini.go: same request shape, same
// bufio.Scanner "data:" line loop, generalized to also surface the
// functionCall parts the teacher's streaming path discarded (it only
// forwarded part.Text; CompleteWithTools, its non-streaming sibling,
// is what originally extracted tool calls).
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    rateLimiter
}

func NewGeminiClient(apiKey, modelName string, httpClient *http.Client) *GeminiClient {
	if modelName == "" {
		modelName = "gemini-3-pro-preview"
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
		model:      modelName,
		httpClient: httpClient,
	}
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResp *geminiFunctionResp `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	Tools            []geminiTool           `json:"tools,omitempty"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig,omitempty"`
}

func geminiContents(msgs []model.Message) []geminiContent {
	out := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			out = append(out, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		case "tool":
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{
				FunctionResp: &geminiFunctionResp{Name: m.ToolCallID, Response: map[string]any{"content": m.Content}},
			}}})
		default:
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return out
}

func geminiTools(defs []model.ToolDefinition) []geminiTool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDecl, len(defs))
	for i, d := range defs {
		decls[i] = geminiFunctionDecl{Name: d.Name, Description: d.Description, Parameters: d.Schema}
	}
	return []geminiTool{{FunctionDeclarations: decls}}
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GeminiClient) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("modelclient: gemini API key not configured")
	}

	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	body := geminiRequest{
		Contents: geminiContents(req.Messages),
		Tools:    geminiTools(req.Tools),
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, modelName, c.apiKey)
	resp, err := postJSON(ctx, c.httpClient, &c.limiter, url, body, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan model.StreamEvent, 64)
	go c.consume(ctx, resp.Body, out)
	return out, nil
}

func (c *GeminiClient) consume(ctx context.Context, body io.ReadCloser, out chan<- model.StreamEvent) {
	defer close(out)
	defer body.Close()

	var usage *model.UsageMetadata
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

		var chunk geminiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			sendEvent(ctx, out, model.StreamEvent{Kind: model.EventError, Err: fmt.Errorf("%s", chunk.Error.Message)})
			return
		}
		if chunk.UsageMetadata != nil {
			usage = &model.UsageMetadata{
				InputTokens:  chunk.UsageMetadata.PromptTokenCount,
				OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  chunk.UsageMetadata.TotalTokenCount,
			}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text != "" {
				if !sendEvent(ctx, out, model.StreamEvent{Kind: model.EventTextDelta, TextDelta: part.Text}) {
					return
				}
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				if !sendEvent(ctx, out, model.StreamEvent{Kind: model.EventToolCall, ToolCall: &model.ToolCall{
					ID:        fmt.Sprintf("call_%s", part.FunctionCall.Name),
					Name:      part.FunctionCall.Name,
					Arguments: args,
				}}) {
					return
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		sendEvent(ctx, out, model.StreamEvent{Kind: model.EventError, Err: err})
		return
	}
	if usage != nil {
		sendEvent(ctx, out, model.StreamEvent{Kind: model.EventUsage, Usage: usage})
	}
	sendEvent(ctx, out, model.StreamEvent{Kind: model.EventDone})
}
