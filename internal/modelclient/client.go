// Package modelclient provides concrete model.Client implementations that
// talk to real LLM backends over plain net/http and SSE, in the style of
// the teacher's internal/perception clients (client_anthropic.go,
// client_openai.go, client_gemini.go): a minimal hand-rolled request/
// response struct per provider, a bufio.Scanner SSE loop reading
// "data: ..." lines, and a retry-with-backoff wrapper around the initial
// request. No provider SDK is used for completions, mirroring the
// teacher's own choice to hand-roll these three wire formats rather than
// depend on each vendor's client library (the google.golang.org/genai
// dependency is reserved for embeddings, per internal/embedding/genai.go).
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"kaioken/internal/config"
	"kaioken/internal/logging"
	"kaioken/internal/model"
)

// maxRetries bounds the initial-request retry loop (connection refused,
// 429, 5xx) before the caller's own streamWithRetry (engine.go) takes
// over for a second full attempt.
const maxRetries = 3

// rateLimiter enforces a minimum spacing between requests to one
// backend, same 100ms floor the teacher's clients use.
type rateLimiter struct {
	mu   sync.Mutex
	last time.Time
}

func (r *rateLimiter) wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := time.Since(r.last)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	r.last = time.Now()
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// postJSON runs the shared retry-on-429/5xx request dance every provider
// client here uses before handing its response body to an SSE reader
// (grounded on the teacher's identical loop in CompleteWithStreaming for
// each of client_anthropic.go/client_openai.go/client_gemini.go).
func postJSON(ctx context.Context, httpClient *http.Client, limiter *rateLimiter, url string, payload any, headers map[string]string) (*http.Response, error) {
	limiter.wait()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("modelclient: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(retryBackoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("modelclient: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("modelclient: request failed: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			errBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("modelclient: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
			logging.TurnDebug("modelclient: retrying attempt %d after %v", attempt, lastErr)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("modelclient: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
		}
		return resp, nil
	}
	return nil, fmt.Errorf("modelclient: max retries exceeded: %w", lastErr)
}

func sendEvent(ctx context.Context, out chan<- model.StreamEvent, ev model.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// New builds the model.Client selected by cfg.Model.Provider. Supported
// providers are "anthropic" (default), "openai", and "gemini" — the same
// three the teacher's client_factory.go chooses between.
func New(cfg *config.Config) (model.Client, error) {
	httpClient := &http.Client{Timeout: cfg.GetModelTimeout()}
	switch cfg.Model.Provider {
	case "", "anthropic":
		return NewAnthropicClient(cfg.Model.APIKey, cfg.Model.Model, httpClient), nil
	case "openai":
		return NewOpenAIClient(cfg.Model.APIKey, cfg.Model.Model, httpClient), nil
	case "gemini":
		return NewGeminiClient(cfg.Model.APIKey, cfg.Model.Model, httpClient), nil
	default:
		return nil, fmt.Errorf("modelclient: unknown provider %q", cfg.Model.Provider)
	}
}
