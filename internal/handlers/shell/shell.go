package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Shell runs a command and returns its combined output as the task result.
type Shell struct{}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type Output struct {
	Output string `json:"output"`
}

func (h Shell) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var c Cmd
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, err
	}
	if c.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	return json.Marshal(Output{Output: string(out)})
}
