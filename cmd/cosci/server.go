package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cosci/cosci/internal/api"
	"github.com/cosci/cosci/internal/emulator"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve cosci tools over MCP (stdio transport)",
	Long: `Serve cosci tools to an MCP client over stdin/stdout.

With --metrics-addr, API request statistics are additionally exposed in the
prometheus format on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		ctx := cmd.Context()

		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		if metricsAddr != "" {
			h, err := api.NewMetricsHandler(api.MetricsDeps{
				Collectors: []prometheus.Collector{client.Collector("cosci")},
				Token:      os.Getenv("COSCI_METRICS_TOKEN"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: metricsAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
			errCh := serve(srv)
			defer shutdown(srv)
			go func() {
				if err := <-errCh; err != nil {
					slog.Error("metrics server error", "error", err)
				}
			}()
			slog.Info("metrics server started", "addr", metricsAddr)
		}

		mcpSrv := api.NewMCPServer(api.MCPDeps{Research: client, Version: version})
		slog.Info("MCP server started (stdio transport)")
		if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address (e.g. 127.0.0.1:9464)")
}

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run a local emulated Discovery Engine backend",
	Long: `Run a local emulated backend for trying the client without cloud access.

Examples:
  cosci emulate --addr 127.0.0.1:8089 --ideas 5 --succeed-after 4
  COSCI_API_BASE_URL=http://127.0.0.1:8089 COSCI_ACCESS_TOKEN=x cosci generate "test goal"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		instanceAfter, _ := cmd.Flags().GetInt("instance-after")
		succeedAfter, _ := cmd.Flags().GetInt("succeed-after")
		ideas, _ := cmd.Flags().GetInt("ideas")
		previews, _ := cmd.Flags().GetBool("previews")
		fail, _ := cmd.Flags().GetBool("fail")
		flaky, _ := cmd.Flags().GetInt("transient-failures")
		token, _ := cmd.Flags().GetString("token")

		emu := emulator.New(emulator.Options{
			InstanceAfterPolls: instanceAfter,
			SucceedAfterPolls:  succeedAfter,
			IdeaCount:          ideas,
			UsePreviews:        previews,
			FailInstance:       fail,
			TransientFailures:  flaky,
			Token:              token,
			Logger:             slog.Default(),
		})
		srv := &http.Server{Addr: addr, Handler: emu, ReadHeaderTimeout: 10 * time.Second}
		errCh := serve(srv)
		printSuccess("Emulated backend listening on http://%s", addr)

		select {
		case <-cmd.Context().Done():
			fmt.Fprintln(os.Stderr, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}
		return shutdown(srv)
	},
}

func init() {
	emulateCmd.Flags().String("addr", "127.0.0.1:8089", "listen address")
	emulateCmd.Flags().Int("instance-after", 1, "session reads before an instance appears")
	emulateCmd.Flags().Int("succeed-after", 2, "instance reads before the instance finishes")
	emulateCmd.Flags().Int("ideas", 3, "number of ideas a finished instance exposes")
	emulateCmd.Flags().Bool("previews", false, "expose ideas as reference-only previews")
	emulateCmd.Flags().Bool("fail", false, "finish instances in FAILED state")
	emulateCmd.Flags().Int("transient-failures", 0, "answer the first N requests with 503")
	emulateCmd.Flags().String("token", "", "require this bearer token")
}

// serve starts srv in a goroutine. The returned channel yields a listen error
// or is closed once the server stops.
func serve(srv *http.Server) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
