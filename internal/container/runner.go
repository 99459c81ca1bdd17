package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"
)

// exitNotFound is the shell convention for "command not found".
const exitNotFound = 127

// Result is the outcome of one runtime CLI invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes a binary with an argument vector. A non-zero exit is
// reported through Result.ExitCode, not as an error; the error return is
// reserved for the process never completing (context expiry, fork failure).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs processes directly with os/exec. Arguments never pass
// through a shell.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed. Zero means two seconds.
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- binary comes from config, args are an argv
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		res.ExitCode = exitNotFound
		res.Stderr = []byte(err.Error())
		return res, nil
	}
	return res, fmt.Errorf("run %s: %w", name, err)
}
