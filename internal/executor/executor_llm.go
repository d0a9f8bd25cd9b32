package executor

import (
	"context"
	"encoding/json"

	"github.com/wasi-warden/warden/internal/capability"
	"github.com/wasi-warden/warden/internal/sandbox"
)

type completeInput struct {
	Prompt string `json:"prompt"`
}

func (e *Executor) llmComplete(ctx context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in completeInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	client := e.llmClient()
	if client == nil {
		return nil, 0, false, capability.Errf(capability.PermissionDenied, "llm capability disabled: no llm.endpoint configured")
	}
	completion, err := client.Complete(ctx, in.Prompt)
	if err != nil {
		return nil, 0, false, err
	}
	return jsonOutput(completion), 0, false, nil
}

func (e *Executor) llmClient() *capability.LLMClient {
	if e.sb.Policy.LLMEndpoint == "" {
		return nil
	}
	e.llmOnce.Do(func() {
		e.llmClientValue = capability.NewLLMClient(e.sb.Policy.LLMEndpoint, e.sb.Policy.LLMModel, e.sb.Policy.LLMAPIKey)
	})
	return e.llmClientValue
}
