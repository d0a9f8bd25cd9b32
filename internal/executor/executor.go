package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wasi-warden/warden/internal/audit"
	"github.com/wasi-warden/warden/internal/capability"
	"github.com/wasi-warden/warden/internal/sandbox"
)

// aliasFields are the input fields the executor substitutes with concrete
// handles before dispatch (§4.3, "Alias resolution").
var aliasFields = []string{"session", "element", "dir"}

// Executor dispatches one plan's actions against a Sandbox's capability
// surface, in strict sequential order, converting every capability error
// into data rather than letting it escape as an exception (§7).
type Executor struct {
	sb  *sandbox.Sandbox
	log *audit.Logger

	llmOnce        sync.Once
	llmClientValue *capability.LLMClient
}

func New(sb *sandbox.Sandbox, log *audit.Logger) *Executor {
	return &Executor{sb: sb, log: log}
}

// Execute runs actions in order and returns exactly one report per action,
// in the same position, regardless of individual failures (§8).
func (e *Executor) Execute(ctx context.Context, taskID string, stepIndex int, actions []Action) []Report {
	reports := make([]Report, len(actions))
	for i, action := range actions {
		report := e.dispatch(ctx, action)
		reports[i] = report
		redacted := audit.RedactInput(action.Capability, action.Input)
		e.log.RecordAction(taskID, stepIndex, i, action.Capability, report.Success, errKindOf(report), redacted)
	}
	return reports
}

func errKindOf(r Report) string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

func (e *Executor) dispatch(ctx context.Context, action Action) Report {
	resolvedInput, err := e.resolveAliases(action.Input)
	if err != nil {
		return failReport(action.Capability, err)
	}

	output, createdHandle, hasHandle, err := e.call(ctx, action.Capability, resolvedInput, action.Alias)
	if err != nil {
		return failReport(action.Capability, err)
	}

	if hasHandle && action.Alias != "" {
		if bindErr := e.sb.Handles.BindAlias(action.Alias, createdHandle); bindErr != nil {
			return failReport(action.Capability, bindErr)
		}
	}

	return Report{Capability: action.Capability, Success: true, Output: output}
}

// resolveAliases substitutes string values at aliasFields keys with the
// numeric handle the alias is bound to. Unknown aliases fail the whole
// action with UnknownAlias before any capability call is attempted.
func (e *Executor) resolveAliases(input json.RawMessage) (json.RawMessage, error) {
	if len(input) == 0 {
		return input, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return nil, capability.Errf(capability.SchemaError, "input is not a JSON object: %v", err)
	}

	for _, key := range aliasFields {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var alias string
		if err := json.Unmarshal(raw, &alias); err != nil {
			continue // not a string alias reference; leave it for schema validation downstream
		}
		handle, err := e.sb.Handles.ResolveAlias(alias)
		if err != nil {
			return nil, err
		}
		encoded, _ := json.Marshal(uint32(handle))
		fields[key] = encoded
	}

	return json.Marshal(fields)
}

func failReport(capabilityID string, err error) Report {
	ce, ok := capability.AsError(err)
	if !ok {
		ce = capability.Errf(capability.SchemaError, "%v", err)
	}
	return Report{
		Capability: capabilityID,
		Success:    false,
		Error:      &ReportError{Kind: string(ce.Kind), Message: ce.Message},
	}
}

func unmarshalInput(raw json.RawMessage, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return capability.Errf(capability.SchemaError, "malformed input for capability: %v", err)
	}
	return nil
}

// call dispatches to the capability named by id. It returns the JSON output
// value, the handle created (if any) for alias binding, and whether a
// handle was created at all.
func (e *Executor) call(ctx context.Context, id string, input json.RawMessage, alias string) (json.RawMessage, sandbox.Handle, bool, error) {
	switch id {
	case "fs.open_workspace":
		return e.fsOpenWorkspace()
	case "fs.list_dir":
		return e.fsListDir(input)
	case "fs.read_file":
		return e.fsReadFile(input)
	case "fs.write_file":
		return e.fsWriteFile(input)
	case "process.spawn":
		return e.processSpawn(input)
	case "process.wait":
		return e.processWait(ctx, input)
	case "browser.open_session":
		return e.browserOpenSession(input)
	case "browser.goto":
		return e.browserGoto(ctx, input)
	case "browser.find":
		return e.browserFind(ctx, input)
	case "browser.click":
		return e.browserClick(ctx, input)
	case "browser.type_text":
		return e.browserTypeText(ctx, input)
	case "browser.inner_text":
		return e.browserInnerText(ctx, input)
	case "browser.describe_page":
		return e.browserDescribePage(ctx, input)
	case "browser.screenshot":
		return e.browserScreenshot(ctx, input, alias)
	case "llm.complete":
		return e.llmComplete(ctx, input)
	default:
		return nil, 0, false, capability.Errf(capability.SchemaError, "unknown capability %q", id)
	}
}

func jsonOutput(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", err.Error()))
	}
	return b
}
