package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogger_RecordActionWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(context.Background(), path, "")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	l.RecordAction("task-1", 0, 0, "fs.read_file", true, "", json.RawMessage(`{"dir":1,"relative_path":"a.txt"}`))
	l.RecordAction("task-1", 0, 1, "fs.read_file", false, "PermissionDenied", json.RawMessage(`{"dir":1,"relative_path":"../etc/passwd"}`))

	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []entry
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lines))
	}
	if lines[0].Capability != "fs.read_file" || !lines[0].Success {
		t.Fatalf("unexpected first entry: %+v", lines[0])
	}
	if lines[1].Success || lines[1].ErrorKind != "PermissionDenied" {
		t.Fatalf("unexpected second entry: %+v", lines[1])
	}
	if string(lines[0].Input) != `{"dir":1,"relative_path":"a.txt"}` {
		t.Fatalf("expected input summary to be recorded, got %q", lines[0].Input)
	}
}

func TestRedactInput_TypeTextHidesSecret(t *testing.T) {
	input := json.RawMessage(`{"element":3,"text":"hunter2","submit":true}`)
	redacted := RedactInput("browser.type_text", input)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(redacted, &fields); err != nil {
		t.Fatalf("redacted input is not valid JSON: %v", err)
	}
	if string(fields["text"]) != `"[REDACTED]"` {
		t.Fatalf("expected text to be redacted, got %s", fields["text"])
	}
	if string(fields["element"]) != "3" {
		t.Fatalf("expected non-secret fields to survive redaction, got %+v", fields)
	}
}

func TestRedactInput_OtherCapabilitiesUntouched(t *testing.T) {
	input := json.RawMessage(`{"dir":1,"contents":"plain file contents"}`)
	redacted := RedactInput("fs.write_file", input)
	if string(redacted) != string(input) {
		t.Fatalf("expected non-type_text input to pass through unchanged, got %s", redacted)
	}
}

func TestLogger_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l1, err := Open(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	l1.RecordAction("task-1", 0, 0, "fs.read_file", true, "", nil)
	l1.Close(context.Background())

	l2, err := Open(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	l2.RecordAction("task-1", 1, 0, "process.spawn", true, "", nil)
	l2.Close(context.Background())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	count := 0
	for scanner.Scan() {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 appended entries, got %d", count)
	}
}
