package container

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"corral/internal/logging"
	"corral/internal/request"
	"corral/internal/status"
)

// Options are shared by the CLI and API drivers.
type Options struct {
	// CommandTimeout bounds every runtime call. Zero means no bound beyond
	// the caller's context.
	CommandTimeout time.Duration
	// StopGrace is passed to stop and restart before the runtime kills
	// the container.
	StopGrace time.Duration
}

func (o Options) graceSeconds() int {
	return int(o.StopGrace.Seconds())
}

func (o Options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.CommandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.CommandTimeout)
}

// CLIDriver drives a runtime through its command-line tool. Docker and
// Podman accept the same argument vectors for everything used here.
type CLIDriver struct {
	runtime request.Runtime
	binary  string
	runner  Runner
	opts    Options
	logger  *slog.Logger
}

// NewCLIDriver returns a driver invoking binary (the runtime's default tool
// name when empty) through runner.
func NewCLIDriver(rt request.Runtime, binary string, runner Runner, opts Options, logger *slog.Logger) *CLIDriver {
	if binary == "" {
		binary = rt.Binary()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &CLIDriver{
		runtime: rt,
		binary:  binary,
		runner:  runner,
		opts:    opts,
		logger:  logger.With("component", "cli-driver", "runtime", rt.String()),
	}
}

func (d *CLIDriver) Available(ctx context.Context, _ request.ContainerRequest) status.Status {
	if _, err := d.run(ctx, "check available", "", "version"); err != nil {
		return statusFor(err)
	}
	return status.OK(fmt.Sprintf("%s is available", d.runtime), "")
}

func (d *CLIDriver) Create(ctx context.Context, req request.ContainerRequest) status.Status {
	out, err := d.run(ctx, "create container", req.ContainerName, createArgs(req)...)
	if err != nil {
		return statusFor(err)
	}
	id := lastLine(out)
	if id == "" {
		return status.Failf(status.RuntimeReportedError, "%s create printed no container id", d.binary)
	}
	d.logger.Info("container created", "id", id, "image", req.ImageName, "name", req.ContainerName)
	return status.OK("container created", id)
}

func (d *CLIDriver) Start(ctx context.Context, req request.ContainerRequest) status.Status {
	if _, err := d.run(ctx, "start container", req.ContainerID, "start", "--", req.ContainerID); err != nil {
		return statusFor(err)
	}
	d.logger.Info("container started", "id", req.ContainerID)
	return status.OK("container started", req.ContainerID)
}

func (d *CLIDriver) Stop(ctx context.Context, req request.ContainerRequest) status.Status {
	if _, err := d.run(ctx, "stop container", req.ContainerID, "stop", "--time", strconv.Itoa(d.opts.graceSeconds()), "--", req.ContainerID); err != nil {
		return statusFor(err)
	}
	d.logger.Info("container stopped", "id", req.ContainerID)
	return status.OK("container stopped", req.ContainerID)
}

func (d *CLIDriver) Restart(ctx context.Context, req request.ContainerRequest) status.Status {
	if _, err := d.run(ctx, "restart container", req.ContainerID, "restart", "--time", strconv.Itoa(d.opts.graceSeconds()), "--", req.ContainerID); err != nil {
		return statusFor(err)
	}
	d.logger.Info("container restarted", "id", req.ContainerID)
	return status.OK("container restarted", req.ContainerID)
}

func (d *CLIDriver) Remove(ctx context.Context, req request.ContainerRequest) status.Status {
	if _, err := d.run(ctx, "remove container", req.ContainerID, "rm", "--force", "--", req.ContainerID); err != nil {
		return statusFor(err)
	}
	d.logger.Info("container removed", "id", req.ContainerID)
	return status.OK("container removed", req.ContainerID)
}

// run executes one CLI call under the command timeout and returns stdout.
func (d *CLIDriver) run(ctx context.Context, op, target string, args ...string) ([]byte, error) {
	ctx, cancel := d.opts.bound(ctx)
	defer cancel()

	d.logger.Debug("running runtime command", "binary", d.binary, "args", args)
	start := time.Now()
	res, err := d.runner.Run(ctx, d.binary, args...)
	if err == nil && res.ExitCode != 0 {
		err = &exitError{code: res.ExitCode, excerpt: excerpt(res.Stderr)}
	}
	if err != nil {
		logging.FromContext(ctx).Warn("runtime command failed", "binary", d.binary, "op", op, "target", target, "exit_code", res.ExitCode, "duration", time.Since(start), "error", err)
		return nil, &RuntimeError{Code: classifyCLI(err), Op: op, Target: target, Err: err}
	}
	return res.Stdout, nil
}

// createArgs builds the argument vector for "create". Environment entries
// are emitted in key order so the vector is deterministic.
func createArgs(req request.ContainerRequest) []string {
	args := []string{"create"}
	if req.ContainerName != "" {
		args = append(args, "--name", req.ContainerName)
	}
	for _, k := range slices.Sorted(maps.Keys(req.Environment)) {
		args = append(args, "-e", k+"="+req.Environment[k])
	}
	for _, p := range req.Ports {
		args = append(args, "-p", p)
	}
	for _, v := range req.Volumes {
		args = append(args, "-v", v)
	}
	if req.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(req.CPUs, 'f', -1, 64))
	}
	if req.Memory != "" {
		args = append(args, "--memory", req.Memory)
	}
	if req.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(req.PidsLimit, 10))
	}
	if req.RestartPolicy != "" {
		args = append(args, "--restart", req.RestartPolicy)
	}
	return append(args, "--", req.ImageName)
}

// lastLine returns the final non-empty line of out. Podman may print pull
// progress before the id.
func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
