// Package policy loads the flat key/value policy document that governs one
// task: workspace root, process allowlist, LLM and browser configuration,
// and the scalar budgets enforced by the orchestration loop.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/titanous/json5"
)

const (
	defaultMaxSteps      = 32
	defaultPerActionMs   = 30_000
	defaultMaxReadBytes  = 1 << 20
	defaultAuditLogFile  = "audit.jsonl"
)

// Snapshot is the immutable policy in effect for the lifetime of one task.
type Snapshot struct {
	Workspace string   `json:"workspace"`
	ProcAllow []string `json:"proc.allow"`

	LLMEndpoint string `json:"llm.endpoint"`
	LLMModel    string `json:"llm.model"`
	LLMAPIKey   string `json:"llm.api_key"`

	BrowserWebDriverURL    string `json:"browser.webdriver_url"`
	BrowserDefaultProfile  string `json:"browser.default_profile"`

	MaxSteps      int  `json:"budgets.max_steps"`
	PerActionMs   int  `json:"budgets.per_action_ms"`
	MaxReadBytes  int  `json:"budgets.max_read_bytes"`
	InputEnabled  bool `json:"input.enabled"`

	OTELEndpoint string `json:"otel_endpoint"`
	AuditLogPath string `json:"audit.log_path"`
}

// raw mirrors the on-disk document shape; json5 decodes directly into it
// since the document's keys are themselves dotted strings, not nested
// objects (the policy file is a flat key/value document by contract).
type raw struct {
	Workspace string   `json:"workspace"`
	ProcAllow []string `json:"proc.allow"`

	LLMEndpoint string `json:"llm.endpoint"`
	LLMModel    string `json:"llm.model"`
	LLMAPIKey   string `json:"llm.api_key"`

	BrowserWebDriverURL   string `json:"browser.webdriver_url"`
	BrowserDefaultProfile string `json:"browser.default_profile"`

	MaxStepsBudget     *int  `json:"budgets.max_steps"`
	PerActionMsBudget  *int  `json:"budgets.per_action_ms"`
	MaxReadBytesBudget *int  `json:"budgets.max_read_bytes"`
	InputEnabled       *bool `json:"input.enabled"`

	OTELEndpoint string `json:"otel_endpoint"`
	AuditLogPath string `json:"audit.log_path"`
}

// Load reads and validates the policy document at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var r raw
	if err := json5.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	if r.Workspace == "" {
		return nil, fmt.Errorf("policy: %q is required", "workspace")
	}
	workspace, err := filepath.Abs(r.Workspace)
	if err != nil {
		return nil, fmt.Errorf("policy: resolve workspace: %w", err)
	}

	if r.InputEnabled != nil && *r.InputEnabled {
		return nil, fmt.Errorf("policy: %q must be false or absent", "input.enabled")
	}

	snap := &Snapshot{
		Workspace:             workspace,
		ProcAllow:             append([]string(nil), r.ProcAllow...),
		LLMEndpoint:           r.LLMEndpoint,
		LLMModel:              r.LLMModel,
		LLMAPIKey:             r.LLMAPIKey,
		BrowserWebDriverURL:   r.BrowserWebDriverURL,
		BrowserDefaultProfile: r.BrowserDefaultProfile,
		MaxSteps:              intOr(r.MaxStepsBudget, defaultMaxSteps),
		PerActionMs:           intOr(r.PerActionMsBudget, defaultPerActionMs),
		MaxReadBytes:          intOr(r.MaxReadBytesBudget, defaultMaxReadBytes),
		InputEnabled:          false,
		OTELEndpoint:          r.OTELEndpoint,
		AuditLogPath:          r.AuditLogPath,
	}
	if snap.AuditLogPath == "" {
		snap.AuditLogPath = defaultAuditLogFile
	}
	return snap, nil
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// PerActionTimeout is the default per-action timeout as a duration.
func (s *Snapshot) PerActionTimeout() time.Duration {
	return time.Duration(s.PerActionMs) * time.Millisecond
}

// BrowserEnabled reports whether the browser capability is configured.
// Per §6, absence of browser.webdriver_url disables the capability entirely.
func (s *Snapshot) BrowserEnabled() bool {
	return s.BrowserWebDriverURL != ""
}
