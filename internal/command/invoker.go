package command

import (
	"context"
	"log/slog"
	"runtime/debug"

	"corral/internal/status"
)

// Invoker runs one bound command. The command is consumed by Execute; bind
// another with Set before executing again.
type Invoker struct {
	cmd    Command
	logger *slog.Logger
}

func NewInvoker(cmd Command, logger *slog.Logger) *Invoker {
	return &Invoker{cmd: cmd, logger: logger}
}

// Set binds the next command to run.
func (i *Invoker) Set(cmd Command) {
	i.cmd = cmd
}

// Execute runs the bound command. A panic inside the command becomes an
// InternalError status.
func (i *Invoker) Execute(ctx context.Context) (st status.Status) {
	cmd := i.cmd
	i.cmd = nil
	if cmd == nil {
		return status.Fail(status.InternalError, "no command bound")
	}

	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("command panicked", "command", cmd.Key().String(), "panic", r, "stack", string(debug.Stack()))
			st = status.Failf(status.InternalError, "command %s panicked: %v", cmd.Key(), r)
		}
	}()
	return cmd.Execute(ctx)
}
