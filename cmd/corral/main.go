package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"corral/internal/config"
	"corral/internal/security"
	"corral/internal/store"
)

var (
	serverURL string
	token     string
	format    string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "corral",
		Short:        "corral CLI: drive Docker and Podman containers through corrald",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "", "corrald HTTP URL (default http://localhost:5000)")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token for record routes (default $CORRAL_TOKEN)")
	root.PersistentFlags().StringVar(&format, "format", "table", "output format: table or json")

	configCmd := &cobra.Command{Use: "config", Short: "Work with corrald config files"}
	configCmd.AddCommand(configValidateCmd())

	root.AddCommand(
		sendCmd(),
		getCmd(),
		listCmd(),
		healthCmd(),
		eventsCmd(),
		keygenCmd(),
		configCmd,
	)
	return root
}

func getServerURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if v := os.Getenv("CORRAL_SERVER"); v != "" {
		return strings.TrimRight(v, "/")
	}
	// Try config file.
	home, _ := os.UserHomeDir()
	data, err := os.ReadFile(home + "/.corral/config.yaml")
	if err == nil {
		var cfg struct {
			Server string `yaml:"server"`
		}
		if yaml.Unmarshal(data, &cfg) == nil && cfg.Server != "" {
			return strings.TrimRight(cfg.Server, "/")
		}
	}
	return "http://localhost:5000"
}

func getToken() string {
	if token != "" {
		return token
	}
	return os.Getenv("CORRAL_TOKEN")
}

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, getServerURL()+path, nil)
	if err != nil {
		return nil, err
	}
	if t := getToken(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show the stored record for a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiGet("/v1/containers/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == "json" {
				fmt.Fprintln(out, string(data))
				return nil
			}
			var rec store.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			fmt.Fprintf(out, "Key:        %s\n", rec.Key)
			fmt.Fprintf(out, "State:      %s\n", rec.State)
			fmt.Fprintf(out, "Runtime:    %s/%s\n", rec.Request.Runtime, rec.Request.AccessMode)
			fmt.Fprintf(out, "Operation:  %s\n", rec.Request.Operation)
			if rec.Request.ImageName != "" {
				fmt.Fprintf(out, "Image:      %s\n", rec.Request.ImageName)
			}
			if rec.Request.ContainerName != "" {
				fmt.Fprintf(out, "Name:       %s\n", rec.Request.ContainerName)
			}
			fmt.Fprintf(out, "Message:    %s\n", rec.Status.Message)
			fmt.Fprintf(out, "Updated:    %s\n", rec.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored container records",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiGet("/v1/containers")
			if err != nil {
				return err
			}
			if format == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			var recs []store.Record
			_ = json.Unmarshal(data, &recs) //nolint:errcheck // non-JSON → empty table is fine
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tRUNTIME\tMODE\tSTATE\tIMAGE\tUPDATED")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Key, r.Request.Runtime, r.Request.AccessMode, r.State, r.Request.ImageName,
					r.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show corrald status",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiGet("/healthz")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == "json" {
				fmt.Fprintln(out, string(data))
				return nil
			}
			var health struct {
				Status        string  `json:"status"`
				UptimeSeconds float64 `json:"uptime_seconds"`
				Store         string  `json:"store"`
				Pool          struct {
					Workers   int    `json:"workers"`
					Queued    int    `json:"queued"`
					Busy      int    `json:"busy"`
					Completed uint64 `json:"completed"`
					Rejected  uint64 `json:"rejected"`
				} `json:"pool"`
			}
			_ = json.Unmarshal(data, &health)

			uptime := time.Duration(health.UptimeSeconds) * time.Second
			days := int(uptime.Hours()) / 24
			hours := int(uptime.Hours()) % 24
			mins := int(uptime.Minutes()) % 60

			fmt.Fprintln(out, "corrald")
			fmt.Fprintf(out, "  Status:  %s\n", health.Status)
			fmt.Fprintf(out, "  Uptime:  %dd %dh %dm\n", days, hours, mins)
			fmt.Fprintf(out, "  Store:   %s\n", health.Store)
			fmt.Fprintf(out, "  Pool:    %d workers, %d busy, %d queued\n", health.Pool.Workers, health.Pool.Busy, health.Pool.Queued)
			fmt.Fprintf(out, "  Tasks:   %d completed, %d rejected\n", health.Pool.Completed, health.Pool.Rejected)
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream events from corrald (SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, getServerURL()+"/v1/events", nil)
			if err != nil {
				return err
			}
			if t := getToken(); t != "" {
				req.Header.Set("Authorization", "Bearer "+t)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "data: ") {
					fmt.Fprintln(cmd.OutOrStdout(), line[6:])
				}
			}
			return scanner.Err()
		},
	}
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a 256-bit key file for aes-gcm or chacha20-poly1305",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			if err := os.WriteFile(out, []byte(key+"\n"), 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the key to this file (mode 0600) instead of stdout")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a corrald config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "config is valid")
			if format == "json" {
				return json.NewEncoder(out).Encode(cfg.Redacted())
			}
			return yaml.NewEncoder(out).Encode(cfg.Redacted())
		},
	}
}
