package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverrun "github.com/okline/relay/internal/cmd/server"
	cfgpkg "github.com/okline/relay/internal/config"
	"github.com/okline/relay/internal/queue"
	pebblestore "github.com/okline/relay/internal/storage/pebble"
	logpkg "github.com/okline/relay/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	level := os.Getenv("RELAY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Durable chat relay",
		Long:  "relay bridges chat gateways to a remote agent service through durable queues.",
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(queuesCommand())
	rootCmd.AddCommand(sessionsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the relay node",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			gatewayAddr, _ := cmd.Flags().GetString("gateway")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)

			// Flags win over file and env.
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if gatewayAddr != "" {
				cfg.GatewayAddr = gatewayAddr
			}
			if fsyncMode != "" {
				cfg.Fsync = fsyncMode
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}

			mode := pebblestore.FsyncModeAlways
			switch cfg.Fsync {
			case "", "always":
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "never":
				mode = pebblestore.FsyncModeNever
			default:
				return fmt.Errorf("invalid fsync mode %q; use always|interval|never", cfg.Fsync)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       cfg.DataDir,
				HTTPAddr:      cfg.HTTPAddr,
				GatewayAddr:   cfg.GatewayAddr,
				Fsync:         mode,
				FsyncInterval: cfg.FsyncInterval(),
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	cmd.Flags().String("config", os.Getenv("RELAY_CONFIG"), "Path to JSON config file")
	cmd.Flags().String("data-dir", "", "Data directory (defaults to the OS application data directory)")
	cmd.Flags().String("http", "", "Admin API listen address (default :8090)")
	cmd.Flags().String("gateway", "", "WebSocket gateway listen address (default :8091)")
	cmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	cmd.Flags().String("log-level", os.Getenv("RELAY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", os.Getenv("RELAY_LOG_FORMAT"), "Log format: text|json")
	return cmd
}

func queuesCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "queues", Short: "Queue operations"}
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-queue partition counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Queues []queue.Stats `json:"queues"`
			}
			if err := apiGet("/v1/queues", &out); err != nil {
				return err
			}
			for _, q := range out.Queues {
				fmt.Printf("%s\tpending=%d\tprocessing=%d\tdone=%d\n",
					q.Name, q.Pending, q.Processing, q.Done)
			}
			return nil
		},
	}
	cmd.AddCommand(statsCmd)
	return cmd
}

func sessionsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Session operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List channel-to-session mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Sessions map[string]string `json:"sessions"`
			}
			if err := apiGet("/v1/sessions", &out); err != nil {
				return err
			}
			for channel, session := range out.Sessions {
				fmt.Printf("%s\t%s\n", channel, session)
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a channel's session mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			if channel == "" {
				return fmt.Errorf("--channel is required")
			}
			req, err := http.NewRequest(http.MethodDelete,
				apiURL()+"/v1/sessions?channel="+url.QueryEscape(channel), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			var out struct {
				Deleted bool `json:"deleted"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return err
			}
			if out.Deleted {
				fmt.Println("cleared")
			} else {
				fmt.Println("no session for channel")
			}
			return nil
		},
	}
	clearCmd.Flags().String("channel", "", "Channel id")

	cmd.AddCommand(listCmd)
	cmd.AddCommand(clearCmd)
	return cmd
}

func apiGet(path string, out interface{}) error {
	resp, err := http.Get(apiURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiURL() string {
	if v := os.Getenv("RELAY_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8090"
}
