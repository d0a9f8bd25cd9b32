package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wasi-warden/warden/internal/capability"
	"github.com/wasi-warden/warden/internal/sandbox"
)

type spawnInput struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Cwd     uint32   `json:"cwd"`
}

func (e *Executor) processSpawn(input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in spawnInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	dir, err := e.sb.Handles.Dir(sandbox.Handle(in.Cwd))
	if err != nil {
		return nil, 0, false, err
	}
	proc, err := capability.Spawn(in.Command, in.Args, dir.Path, e.sb.Policy.ProcAllow)
	if err != nil {
		return nil, 0, false, err
	}
	h := e.sb.Handles.AddProcess(proc)
	return jsonOutput(uint32(h)), h, true, nil
}

type waitInput struct {
	Pid       uint32 `json:"pid"`
	TimeoutMs int    `json:"timeout_ms"`
}

type waitOutput struct {
	ExitCode int `json:"exit_code"`
}

func (e *Executor) processWait(_ context.Context, input json.RawMessage) (json.RawMessage, sandbox.Handle, bool, error) {
	var in waitInput
	if err := unmarshalInput(input, &in); err != nil {
		return nil, 0, false, err
	}
	proc, err := e.sb.Handles.Process(sandbox.Handle(in.Pid))
	if err != nil {
		return nil, 0, false, err
	}
	timeout := time.Duration(in.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.sb.Policy.PerActionTimeout()
	}
	code, err := proc.Wait(timeout)
	if err != nil {
		return nil, 0, false, err
	}
	return jsonOutput(waitOutput{ExitCode: code}), 0, false, nil
}
