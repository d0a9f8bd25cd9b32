package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// LLMProxyRate is the default request rate the LLM proxy self-limits to,
// independent of whatever quota the upstream endpoint itself enforces.
const LLMProxyRate = 2 // requests per second

// LLMClient forwards prompts to a configured HTTP endpoint and returns the
// raw textual completion. The host performs no prompt rewriting; the
// endpoint and model come from policy, never from the guest (§4.2.4).
type LLMClient struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewLLMClient(endpoint, model, apiKey string) *LLMClient {
	return &LLMClient{
		endpoint:   endpoint,
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(LLMProxyRate), 1),
	}
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Completion string `json:"completion"`
}

// Complete forwards prompt to the configured endpoint and returns the raw
// text. Non-2xx responses and transport errors surface as ExternalFailure.
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", Errf(Timeout, "llm rate limit wait: %v", err)
	}

	body, err := json.Marshal(completionRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", Errf(SchemaError, "marshal completion request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", Errf(ExternalFailure, "build completion request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", Errf(Timeout, "llm completion timed out: %v", err)
		}
		return "", Errf(ExternalFailure, "llm completion request failed: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Errf(ExternalFailure, "read completion response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", Errf(ExternalFailure, "llm endpoint returned %s: %s", resp.Status, string(payload))
	}

	var parsed completionResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", Errf(EncodingError, "unmarshal completion response: %v", err)
	}
	return parsed.Completion, nil
}
