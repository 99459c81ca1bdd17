package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"corral/internal/bus"
	"corral/internal/codec"
	"corral/internal/request"
	"corral/internal/security"
	"corral/internal/status"
)

type sendOptions struct {
	op, runtime, mode string
	id, image, name   string
	env, ports, vols  []string
	cpus              float64
	memory            string
	pids              int64
	restart           string

	via      string
	encoding string
	provider string
	keyFile  string
	natsURL  string
	subject  string
	timeout  time.Duration
}

func sendCmd() *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Build, seal and send a container request",
		Example: `  corral send --op create --runtime docker --mode api --image nginx --name web1 -e K=V -p 8080:80
  corral send --op stop --runtime podman --mode cli --id web1 --via nats`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := o.request()
			if err != nil {
				return err
			}
			st, err := o.send(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.op, "op", "", "operation: check, create, start, stop, restart, remove")
	f.StringVar(&o.runtime, "runtime", "docker", "runtime: docker or podman")
	f.StringVar(&o.mode, "mode", "cli", "access mode: cli or api")
	f.StringVar(&o.id, "id", "", "container id or name to act on")
	f.StringVar(&o.image, "image", "", "image to create from")
	f.StringVar(&o.name, "name", "", "name for the new container")
	f.StringArrayVarP(&o.env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringArrayVarP(&o.ports, "publish", "p", nil, "port mapping host:container (repeatable)")
	f.StringArrayVarP(&o.vols, "volume", "v", nil, "bind mount host:container[:opts] (repeatable)")
	f.Float64Var(&o.cpus, "cpus", 0, "CPU limit")
	f.StringVar(&o.memory, "memory", "", "memory limit, e.g. 512m")
	f.Int64Var(&o.pids, "pids-limit", 0, "process limit")
	f.StringVar(&o.restart, "restart", "", "restart policy: no, always, unless-stopped, on-failure[:N]")

	f.StringVar(&o.via, "via", "http", "transport: http or nats")
	f.StringVar(&o.encoding, "encoding", "json", "payload encoding: json or protobuf")
	f.StringVar(&o.provider, "security", "none", "payload security: none, aes-gcm, chacha20-poly1305")
	f.StringVar(&o.keyFile, "key-file", os.Getenv("CORRAL_KEY_FILE"), "key file for aes-gcm and chacha20-poly1305")
	f.StringVar(&o.natsURL, "nats-url", envOr("CORRAL_NATS_URL", "nats://localhost:4222"), "NATS server for --via nats")
	f.StringVar(&o.subject, "subject", bus.SubjectRequests, "request subject for --via nats")
	f.DurationVar(&o.timeout, "timeout", time.Minute, "how long to wait for the reply")
	cmd.MarkFlagRequired("op")
	return cmd
}

// request builds and validates the request from flags.
func (o *sendOptions) request() (request.ContainerRequest, error) {
	op, err := request.ParseOperation(o.op)
	if err != nil {
		return request.ContainerRequest{}, err
	}
	rt, err := request.ParseRuntime(o.runtime)
	if err != nil {
		return request.ContainerRequest{}, err
	}
	mode, err := request.ParseAccessMode(o.mode)
	if err != nil {
		return request.ContainerRequest{}, err
	}

	req := request.ContainerRequest{
		Operation:     op,
		Runtime:       rt,
		AccessMode:    mode,
		ContainerID:   o.id,
		ImageName:     o.image,
		ContainerName: o.name,
		Ports:         o.ports,
		Volumes:       o.vols,
		CPUs:          o.cpus,
		Memory:        o.memory,
		PidsLimit:     o.pids,
		RestartPolicy: o.restart,
		CorrelationID: uuid.NewString(),
	}
	if len(o.env) > 0 {
		req.Environment = make(map[string]string, len(o.env))
		for _, kv := range o.env {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return request.ContainerRequest{}, fmt.Errorf("invalid env %q, want KEY=VALUE", kv)
			}
			req.Environment[k] = v
		}
	}
	if err := req.Validate(); err != nil {
		return request.ContainerRequest{}, err
	}
	return req, nil
}

// send seals req, ships it over the chosen transport and unseals the reply.
func (o *sendOptions) send(ctx context.Context, req request.ContainerRequest) (status.Status, error) {
	enc, err := codec.ParseEncoding(o.encoding)
	if err != nil {
		return status.Status{}, err
	}
	c, err := codec.New(enc)
	if err != nil {
		return status.Status{}, err
	}
	provider, err := security.New(security.Config{Provider: o.provider, KeyFile: o.keyFile})
	if err != nil {
		return status.Status{}, err
	}

	plain, err := c.EncodeRequest(req)
	if err != nil {
		return status.Status{}, fmt.Errorf("encode request: %w", err)
	}
	payload, err := provider.Encrypt(plain)
	if err != nil {
		return status.Status{}, fmt.Errorf("encrypt request: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var reply []byte
	switch o.via {
	case "http":
		reply, err = postExecute(ctx, payload, enc)
	case "nats":
		reply, err = natsExecute(ctx, o.natsURL, o.subject, payload, enc)
	default:
		return status.Status{}, fmt.Errorf("unknown transport %q, want http or nats", o.via)
	}
	if err != nil {
		return status.Status{}, err
	}

	data, err := provider.Decrypt(reply)
	if err != nil {
		return status.Status{}, fmt.Errorf("decrypt reply: %w", err)
	}
	st, err := c.DecodeStatus(data)
	if err != nil {
		return status.Status{}, fmt.Errorf("decode reply: %w", err)
	}
	return st, nil
}

func postExecute(ctx context.Context, payload []byte, enc codec.Encoding) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, getServerURL()+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", enc.ContentType())
	req.Header.Set("Corral-Encoding", string(enc))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func natsExecute(ctx context.Context, natsURL, subject string, payload []byte, enc codec.Encoding) ([]byte, error) {
	cfg := bus.DefaultConfig()
	cfg.URL = natsURL
	cfg.MaxReconnects = 0
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := bus.Connect(cfg, "corral-cli", logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.Request(ctx, subject, payload, string(enc))
}

func printStatus(w io.Writer, st status.Status) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, st.String())
		if st.ContainerID != "" {
			fmt.Fprintf(w, "  container:   %s\n", st.ContainerID)
		}
		fmt.Fprintf(w, "  correlation: %s\n", st.CorrelationID)
	}
	if !st.Success {
		return fmt.Errorf("request failed: %s", st.ErrorCode)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
