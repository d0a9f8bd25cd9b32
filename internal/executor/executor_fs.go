package executor

import (
	"encoding/json"

	"github.com/wasi-warden/warden/internal/capability"
	"github.com/wasi-warden/warden/internal/sandbox"
)

func (e *Executor) fsOpenWorkspace() (json.RawMessage, sandbox.Handle, bool, error) {
	h := e.sb.Handles.OpenWorkspace()
	return jsonOutput(uint32(h)), h, true, nil
}

type listDirInput struct {
	Dir          uint32 `json:"dir"`
	RelativePath string `json:"relative_path"`
}

func (e *Executor) fsListDir(input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in listDirInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	dir, err := e.sb.Handles.Dir(sandbox.Handle(in.Dir))
	if err != nil {
		return nil, 0, false, err
	}
	path, err := capability.ResolvePath(in.RelativePath, dir.Path)
	if err != nil {
		return nil, 0, false, err
	}
	names, err := capability.ListDir(path)
	if err != nil {
		return nil, 0, false, err
	}
	return jsonOutput(names), 0, false, nil
}

type readFileInput struct {
	Dir          uint32 `json:"dir"`
	RelativePath string `json:"relative_path"`
	MaxBytes     int    `json:"max_bytes"`
}

type readFileOutput struct {
	Contents  string `json:"contents"`
	Truncated bool   `json:"truncated"`
}

func (e *Executor) fsReadFile(input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in readFileInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	dir, err := e.sb.Handles.Dir(sandbox.Handle(in.Dir))
	if err != nil {
		return nil, 0, false, err
	}
	maxBytes := in.MaxBytes
	if maxBytes <= 0 || maxBytes > e.sb.Policy.MaxReadBytes {
		maxBytes = e.sb.Policy.MaxReadBytes
	}
	path, err := capability.ResolvePath(in.RelativePath, dir.Path)
	if err != nil {
		return nil, 0, false, err
	}
	result, err := capability.ReadFile(path, maxBytes)
	if err != nil {
		return nil, 0, false, err
	}
	return jsonOutput(readFileOutput{Contents: result.Contents, Truncated: result.Truncated}), 0, false, nil
}

type writeFileInput struct {
	Dir          uint32 `json:"dir"`
	RelativePath string `json:"relative_path"`
	Contents     string `json:"contents"`
}

func (e *Executor) fsWriteFile(input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in writeFileInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	dir, err := e.sb.Handles.Dir(sandbox.Handle(in.Dir))
	if err != nil {
		return nil, 0, false, err
	}
	path, err := capability.ResolvePath(in.RelativePath, dir.Path)
	if err != nil {
		return nil, 0, false, err
	}
	if err := capability.WriteFile(path, in.Contents); err != nil {
		return nil, 0, false, err
	}
	return nil, 0, false, nil
}
