package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"corral/internal/status"
)

// maxExcerpt caps how much runtime stderr ends up in a Status message.
const maxExcerpt = 512

// RuntimeError is a failed runtime call together with the status code it
// maps to.
type RuntimeError struct {
	Code   status.Code
	Op     string
	Target string
	Err    error
}

func (e *RuntimeError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Target, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Status converts the error into a failed Status.
func (e *RuntimeError) Status() status.Status {
	return status.Fail(e.Code, e.Error())
}

// statusFor converts any driver error into a Status, defaulting to
// RuntimeReportedError when the error carries no code.
func statusFor(err error) status.Status {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr.Status()
	}
	return status.Fail(status.RuntimeReportedError, err.Error())
}

// exitError describes a CLI invocation that exited non-zero.
type exitError struct {
	code    int
	excerpt string
}

func (e *exitError) Error() string {
	if e.excerpt == "" {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return fmt.Sprintf("exit status %d: %s", e.code, e.excerpt)
}

// excerpt trims runtime output down to something fit for a Status message.
func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxExcerpt {
		n := maxExcerpt
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n] + "..."
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

func contextCode(err error) (status.Code, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return status.Timeout, true
	}
	return status.None, false
}

// classifyCLI maps an ExecRunner outcome to a status code. Anything that
// ran to completion is a runtime-reported failure; exit 127 (binary
// missing) included.
func classifyCLI(err error) status.Code {
	if code, ok := contextCode(err); ok {
		return code
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return status.RuntimeReportedError
	}
	return status.InternalError
}

// classifyAPI maps an Engine API error to a status code. Client-side 4xx
// classes are reported by the runtime; server errors and connection
// failures mean the runtime is unavailable.
func classifyAPI(err error) status.Code {
	if code, ok := contextCode(err); ok {
		return code
	}
	switch {
	case errdefs.IsDeadline(err):
		return status.Timeout
	case client.IsErrConnectionFailed(err), errdefs.IsUnavailable(err), errdefs.IsSystem(err):
		return status.Unavailable
	default:
		// not found, conflict, invalid parameter, forbidden, ...
		return status.RuntimeReportedError
	}
}
