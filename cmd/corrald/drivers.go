package main

import (
	"fmt"
	"log/slog"

	"github.com/docker/docker/client"

	"corral/internal/command"
	"corral/internal/config"
	"corral/internal/container"
	"corral/internal/request"
)

// registerDrivers fills the factory with a driver per enabled runtime and
// access mode. It returns the API clients it created, keyed by runtime, so
// the caller can watch and close them.
func registerDrivers(f *command.Factory, rc config.Runtimes, logger *slog.Logger) (map[request.Runtime]*client.Client, error) {
	opts := container.Options{
		CommandTimeout: rc.CommandTimeout,
		StopGrace:      rc.StopGrace,
	}
	runner := container.ExecRunner{}
	clients := make(map[request.Runtime]*client.Client)

	for _, rt := range request.Runtimes {
		r := runtimeConfig(rc, rt)
		if r.CLIEnabled() {
			f.RegisterDriver(rt, request.CLI, container.NewCLIDriver(rt, r.Binary, runner, opts, logger))
		}
		if r.APIEnabled() {
			cli, err := container.NewClient(rt, r.Host)
			if err != nil {
				closeClients(clients, logger)
				return nil, fmt.Errorf("register %s api driver: %w", rt, err)
			}
			clients[rt] = cli
			f.RegisterDriver(rt, request.API, container.NewAPIDriver(rt, cli, opts, logger))
		}
		logger.Info("runtime configured", "runtime", rt.String(), "cli", r.CLIEnabled(), "api", r.APIEnabled())
	}
	return clients, nil
}

func runtimeConfig(rc config.Runtimes, rt request.Runtime) config.Runtime {
	if rt == request.Podman {
		return rc.Podman
	}
	return rc.Docker
}

func closeClients(clients map[request.Runtime]*client.Client, logger *slog.Logger) {
	for rt, cli := range clients {
		if err := cli.Close(); err != nil {
			logger.Warn("close runtime client failed", "runtime", rt.String(), "error", err)
		}
	}
}
