package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"corral/internal/request"
)

// ContainerAPI is the slice of the Engine API client the drivers and the
// watcher use. *client.Client satisfies it.
type ContainerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
	Close() error
}

var _ ContainerAPI = (*client.Client)(nil)

// DefaultHost returns the API endpoint for a runtime. Docker honours
// DOCKER_HOST through the client's own defaults, so only Podman needs a
// socket lookup: the rootless socket under XDG_RUNTIME_DIR when it exists,
// the system socket otherwise.
func DefaultHost(rt request.Runtime) string {
	if rt != request.Podman {
		return ""
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		sock := filepath.Join(dir, "podman", "podman.sock")
		if _, err := os.Stat(sock); err == nil {
			return "unix://" + sock
		}
	}
	return "unix:///run/podman/podman.sock"
}

// NewClient builds an Engine API client for host. An empty host falls back
// to DefaultHost and then to the environment (DOCKER_HOST and friends).
// Podman serves the Docker-compatible API, so the same client drives both.
func NewClient(rt request.Runtime, host string) (*client.Client, error) {
	if host == "" {
		host = DefaultHost(rt)
	}
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", rt, err)
	}
	return cli, nil
}
