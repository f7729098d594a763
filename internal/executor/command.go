// Package executor adapts an external agent process to
// orchestrator.AgentExecutor, the same "shell out to the agent binary"
// pattern as the teacher's vibecli InvokeClaude (cmd/vibecli/claude.go),
// generalized from a fixed worktree invocation to one task per process run.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/abathur-swarm/swarmcore/internal/orchestrator"
	"github.com/abathur-swarm/swarmcore/internal/types"
)

// CommandExecutor runs a configured external command once per task,
// piping the task's prompt to its stdin and capturing stdout as result data.
type CommandExecutor struct {
	// Command is the program to run, e.g. "claude" or a wrapper script.
	Command string
	// Args are extra arguments appended before the task is piped in.
	Args []string
}

// ExecuteTask runs Command with the task's prompt on stdin. A non-zero exit
// is reported as a failed ExecutorResult, not a Go error, so the
// orchestrator's retry/fail bookkeeping runs normally; a Go error is
// reserved for failures to even start the process.
func (e *CommandExecutor) ExecuteTask(ctx context.Context, t *types.Task) (orchestrator.ExecutorResult, error) {
	if e.Command == "" {
		return orchestrator.ExecutorResult{}, fmt.Errorf("executor: no agent_executor_command configured")
	}

	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = strings.NewReader(t.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return orchestrator.ExecutorResult{
			Success: false,
			Error:   fmt.Sprintf("%v: %s", err, strings.TrimSpace(stderr.String())),
		}, nil
	}

	return orchestrator.ExecutorResult{
		Success: true,
		Data:    stdout.String(),
	}, nil
}
