package container

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"corral/internal/request"
	"corral/internal/status"
)

// APIDriver drives a runtime through the Engine HTTP API.
type APIDriver struct {
	runtime request.Runtime
	api     ContainerAPI
	opts    Options
	logger  *slog.Logger
}

func NewAPIDriver(rt request.Runtime, api ContainerAPI, opts Options, logger *slog.Logger) *APIDriver {
	return &APIDriver{
		runtime: rt,
		api:     api,
		opts:    opts,
		logger:  logger.With("component", "api-driver", "runtime", rt.String()),
	}
}

func (d *APIDriver) Available(ctx context.Context, _ request.ContainerRequest) status.Status {
	ctx, cancel := d.opts.bound(ctx)
	defer cancel()
	ping, err := d.api.Ping(ctx)
	if err != nil {
		return d.fail("ping", "", err)
	}
	return status.OK(fmt.Sprintf("%s is available (api %s)", d.runtime, ping.APIVersion), "")
}

func (d *APIDriver) Create(ctx context.Context, req request.ContainerRequest) status.Status {
	cfg, hostCfg, err := createConfig(req)
	if err != nil {
		return status.Fail(status.DecodeError, err.Error())
	}

	ctx, cancel := d.opts.bound(ctx)
	defer cancel()
	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, req.ContainerName)
	if err != nil {
		return d.fail("create container", req.ContainerName, err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("create warning", "id", resp.ID, "warning", w)
	}
	d.logger.Info("container created", "id", resp.ID, "image", req.ImageName, "name", req.ContainerName)
	return status.OK("container created", resp.ID)
}

func (d *APIDriver) Start(ctx context.Context, req request.ContainerRequest) status.Status {
	ctx, cancel := d.opts.bound(ctx)
	defer cancel()
	if err := d.api.ContainerStart(ctx, req.ContainerID, container.StartOptions{}); err != nil {
		return d.fail("start container", req.ContainerID, err)
	}
	d.logger.Info("container started", "id", req.ContainerID)
	return status.OK("container started", req.ContainerID)
}

func (d *APIDriver) Stop(ctx context.Context, req request.ContainerRequest) status.Status {
	ctx, cancel := d.opts.bound(ctx)
	defer cancel()
	secs := d.opts.graceSeconds()
	if err := d.api.ContainerStop(ctx, req.ContainerID, container.StopOptions{Timeout: &secs}); err != nil {
		return d.fail("stop container", req.ContainerID, err)
	}
	d.logger.Info("container stopped", "id", req.ContainerID, "grace_period", d.opts.StopGrace)
	return status.OK("container stopped", req.ContainerID)
}

func (d *APIDriver) Restart(ctx context.Context, req request.ContainerRequest) status.Status {
	ctx, cancel := d.opts.bound(ctx)
	defer cancel()
	secs := d.opts.graceSeconds()
	if err := d.api.ContainerRestart(ctx, req.ContainerID, container.StopOptions{Timeout: &secs}); err != nil {
		return d.fail("restart container", req.ContainerID, err)
	}
	d.logger.Info("container restarted", "id", req.ContainerID)
	return status.OK("container restarted", req.ContainerID)
}

func (d *APIDriver) Remove(ctx context.Context, req request.ContainerRequest) status.Status {
	ctx, cancel := d.opts.bound(ctx)
	defer cancel()
	if err := d.api.ContainerRemove(ctx, req.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		return d.fail("remove container", req.ContainerID, err)
	}
	d.logger.Info("container removed", "id", req.ContainerID)
	return status.OK("container removed", req.ContainerID)
}

func (d *APIDriver) fail(op, target string, err error) status.Status {
	rerr := &RuntimeError{Code: classifyAPI(err), Op: op, Target: target, Err: err}
	d.logger.Warn("runtime api call failed", "op", op, "target", target, "code", rerr.Code.String(), "error", err)
	return rerr.Status()
}

// createConfig translates a Create request into Engine API create bodies.
func createConfig(req request.ContainerRequest) (*container.Config, *container.HostConfig, error) {
	exposed, bindings, err := nat.ParsePortSpecs(req.Ports)
	if err != nil {
		return nil, nil, fmt.Errorf("parse ports: %w", err)
	}

	env := make([]string, 0, len(req.Environment))
	for _, k := range slices.Sorted(maps.Keys(req.Environment)) {
		env = append(env, k+"="+req.Environment[k])
	}

	cfg := &container.Config{
		Image:        req.ImageName,
		Env:          env,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        slices.Clone(req.Volumes),
	}

	if req.CPUs > 0 {
		hostCfg.NanoCPUs = int64(req.CPUs * 1e9)
	}
	if req.Memory != "" {
		mem, err := units.RAMInBytes(req.Memory)
		if err != nil {
			return nil, nil, fmt.Errorf("parse memory %q: %w", req.Memory, err)
		}
		hostCfg.Memory = mem
	}
	if req.PidsLimit > 0 {
		limit := req.PidsLimit
		hostCfg.PidsLimit = &limit
	}
	if req.RestartPolicy != "" {
		name, retries, err := request.ParseRestartPolicy(req.RestartPolicy)
		if err != nil {
			return nil, nil, err
		}
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(name),
			MaximumRetryCount: retries,
		}
	}
	return cfg, hostCfg, nil
}
