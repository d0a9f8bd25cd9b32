package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json5")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	ws := t.TempDir()
	path := writePolicy(t, `{
		workspace: "`+ws+`",
		"proc.allow": ["echo", "ls"],
	}`)

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snap.MaxSteps != defaultMaxSteps {
		t.Errorf("expected default max_steps %d, got %d", defaultMaxSteps, snap.MaxSteps)
	}
	if snap.PerActionMs != defaultPerActionMs {
		t.Errorf("expected default per_action_ms %d, got %d", defaultPerActionMs, snap.PerActionMs)
	}
	if snap.MaxReadBytes != defaultMaxReadBytes {
		t.Errorf("expected default max_read_bytes %d, got %d", defaultMaxReadBytes, snap.MaxReadBytes)
	}
	if snap.BrowserEnabled() {
		t.Error("expected browser capability disabled without browser.webdriver_url")
	}
}

func TestLoad_MissingWorkspaceErrors(t *testing.T) {
	path := writePolicy(t, `{ "proc.allow": ["echo"] }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing workspace")
	}
}

func TestLoad_InputEnabledTrueRejected(t *testing.T) {
	ws := t.TempDir()
	path := writePolicy(t, `{ workspace: "`+ws+`", "input.enabled": true }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for input.enabled=true")
	}
}

func TestLoad_OverridesAndBrowser(t *testing.T) {
	ws := t.TempDir()
	path := writePolicy(t, `{
		workspace: "`+ws+`",
		"proc.allow": ["echo"],
		"budgets.max_steps": 5,
		"browser.webdriver_url": "http://localhost:9222",
	}`)

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snap.MaxSteps != 5 {
		t.Errorf("expected overridden max_steps 5, got %d", snap.MaxSteps)
	}
	if !snap.BrowserEnabled() {
		t.Error("expected browser capability enabled")
	}
}
