// Command wtd is the agent-tui daemon: it owns the PTY sessions and serves
// the line-delimited JSON-RPC protocol over a Unix socket (and, optionally,
// a WebSocket gateway for remote UIs).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/agent-tui/agent-tui/internal/config"
	"github.com/agent-tui/agent-tui/internal/daemon"
	"github.com/agent-tui/agent-tui/internal/logger"
	"github.com/agent-tui/agent-tui/internal/persistence"
	"github.com/agent-tui/agent-tui/internal/rpc"
	"github.com/agent-tui/agent-tui/internal/sessionmanager"
	"github.com/agent-tui/agent-tui/internal/shutdown"
	"github.com/agent-tui/agent-tui/internal/transport"
)

var version = "dev"

const (
	flagVerbose    = "verbose"
	flagConfig     = "config"
	flagLogFile    = "log-file"
	flagSocketPath = "socket-path"
	flagForeground = "foreground"
	flagMaxSess    = "max-sessions"
	flagWS         = "websocket"
	flagWSListen   = "websocket-listen"
	flagWSRemote   = "websocket-allow-remote"
	flagForce      = "force"
)

func main() {
	logLevel := &slog.LevelVar{}
	stderrLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	viper.SetEnvPrefix("AGENT_TUI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "wtd",
		Short: "agent-tui daemon: multiplexes long-lived PTY sessions over JSON-RPC",
		Long: `wtd is the background daemon behind agent-tui. It spawns and owns PTY
sessions, serves a line-delimited JSON-RPC protocol over a Unix socket for
local clients, and can optionally expose the same protocol over a WebSocket
gateway for browser-based and remote UIs.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool(flagVerbose, false, "Enable verbose (debug) logging")
	rootCmd.PersistentFlags().String(flagConfig, "", "Config file path (default: .agent-tui/config.yaml)")
	rootCmd.PersistentFlags().String(flagLogFile, "", "Log file path")
	rootCmd.PersistentFlags().String(flagSocketPath, "", "Unix socket path")
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wtd %s\n", version)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool(flagVerbose) {
				logLevel.Set(slog.LevelDebug)
			}

			cfg, err := config.LoadConfig(viper.GetViper())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			projectRoot := daemon.FindProjectRoot("")
			cfg.Paths, err = daemon.ResolvePaths(cfg.Paths, projectRoot)
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			if cmd.Flags().Changed(flagLogFile) {
				cfg.Paths.Log = viper.GetString(flagLogFile)
			}
			if cmd.Flags().Changed(flagSocketPath) {
				cfg.Paths.Socket = viper.GetString(flagSocketPath)
			}
			if cmd.Flags().Changed(flagMaxSess) {
				cfg.Sessions.MaxSessions = viper.GetInt(flagMaxSess)
			}
			if cmd.Flags().Changed(flagWS) {
				cfg.WebSocket.Enabled = viper.GetBool(flagWS)
			}
			if cmd.Flags().Changed(flagWSListen) {
				cfg.WebSocket.Listen = viper.GetString(flagWSListen)
			}
			if cmd.Flags().Changed(flagWSRemote) {
				cfg.WebSocket.AllowRemote = viper.GetBool(flagWSRemote)
			}

			foreground := viper.GetBool(flagForeground)

			if !foreground {
				client := daemon.NewClient(cfg.Paths.Socket)
				if client.IsRunning() {
					return fmt.Errorf("daemon already running (socket: %s)", cfg.Paths.Socket)
				}
				shouldExit, _, err := daemon.Daemonize(cfg)
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				if shouldExit {
					return nil
				}
			}

			log, closer, err := logger.New(logger.Options{
				Path:       cfg.Paths.Log,
				Level:      logLevel,
				MaxSizeMB:  cfg.LogRotation.MaxSizeMB,
				MaxBackups: cfg.LogRotation.MaxBackups,
				MaxAgeDays: cfg.LogRotation.MaxAgeDays,
				Compress:   cfg.LogRotation.Compress,
				Stdout:     foreground,
			})
			if err != nil {
				return fmt.Errorf("set up logger: %w", err)
			}
			defer func() { _ = closer.Close() }()
			slog.SetDefault(log)

			pidFile := daemon.NewPIDFile(cfg.Paths.PID)
			pidFile.CleanupStale(cfg.Paths.Socket)
			if err := pidFile.Write(); err != nil {
				return fmt.Errorf("acquire pid lock: %w", err)
			}
			defer func() { _ = pidFile.Remove() }()

			store := persistence.NewStore(cfg.Paths.SessionStore, log)
			manager, err := sessionmanager.New(store, cfg.Sessions.MaxSessions, log)
			if err != nil {
				return fmt.Errorf("build session manager: %w", err)
			}

			dmn := daemon.New(cfg, manager, log)

			daemonInfo := &daemon.DaemonInfo{
				SocketPath: cfg.Paths.Socket,
				PIDPath:    cfg.Paths.PID,
				LogPath:    cfg.Paths.Log,
				StartTime:  time.Now(),
				PID:        os.Getpid(),
			}
			infoPath := daemon.DaemonInfoPath(projectRoot)
			if err := daemon.WriteDaemonInfo(infoPath, daemonInfo); err != nil {
				log.Warn("failed to write daemon info", "error", err)
			}
			defer func() { _ = daemon.RemoveDaemonInfo(infoPath) }()

			if err := writeAPIState(cfg, daemonInfo); err != nil {
				log.Warn("failed to write api state", "error", err)
			}

			log.Info("wtd starting", "version", version, "socket", cfg.Paths.Socket)

			ctx := cmd.Context()
			var gw *transport.Gateway
			if cfg.WebSocket.Enabled {
				gw = transport.NewGateway(transport.Config{
					Listen:         cfg.WebSocket.Listen,
					AllowRemote:    cfg.WebSocket.AllowRemote,
					MaxConnections: cfg.WebSocket.MaxConnections,
				}, &rpc.Dispatcher{Manager: manager, StartTime: time.Now(), Logger: log}, log)
				if err := gw.Start(); err != nil {
					return fmt.Errorf("start websocket gateway: %w", err)
				}
				defer func() { _ = gw.Stop(context.Background()) }()
				log.Info("websocket gateway listening", "addr", gw.Addr())
			}

			return shutdown.RunWithGracefulShutdown(
				ctx,
				log,
				10*time.Second,
				func(runCtx context.Context) error {
					return dmn.Start(runCtx)
				},
				func(shutdownCtx context.Context) error {
					return dmn.Stop()
				},
			)
		},
	}
	serveCmd.Flags().Bool(flagForeground, false, "Run in the foreground instead of daemonizing")
	serveCmd.Flags().Int(flagMaxSess, 0, "Maximum concurrent sessions (0 = config default)")
	serveCmd.Flags().Bool(flagWS, false, "Enable the WebSocket gateway")
	serveCmd.Flags().String(flagWSListen, "", "WebSocket gateway listen address")
	serveCmd.Flags().Bool(flagWSRemote, false, "Allow non-loopback WebSocket connections")
	serveCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := daemon.FindDaemonInfo("")
			if err != nil {
				return fmt.Errorf("daemon not running: %w", err)
			}

			proc, err := os.FindProcess(info.PID)
			if err != nil {
				return fmt.Errorf("find daemon process %d: %w", info.PID, err)
			}

			sig := syscall.SIGTERM
			sigName := "SIGTERM"
			if viper.GetBool(flagForce) {
				sig = syscall.SIGKILL
				sigName = "SIGKILL"
			}
			if err := proc.Signal(sig); err != nil {
				return fmt.Errorf("send %s to pid %d: %w", sigName, info.PID, err)
			}
			fmt.Printf("Sent %s to daemon (pid %d)\n", sigName, info.PID)
			return nil
		},
	}
	stopCmd.Flags().Bool(flagForce, false, "Send SIGKILL instead of SIGTERM")
	stopCmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(f.Name, f)
	})

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Query daemon health over the socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := daemon.FindDaemonInfo("")
			if err != nil {
				return fmt.Errorf("daemon not running: %w", err)
			}
			client := daemon.NewClient(info.SocketPath)
			resp, err := client.Call("health", nil)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(resp.Result, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal health result: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}

	rootCmd.AddCommand(versionCmd, serveCmd, stopCmd, healthCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		stderrLogger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// writeAPIState writes the api.json discovery file described by the
// external interface contract: pid, socket path ("listen"), start time,
// and a ws_url when the WebSocket gateway is enabled.
func writeAPIState(cfg *config.Config, info *daemon.DaemonInfo) error {
	state := map[string]any{
		"pid":        info.PID,
		"listen":     cfg.Paths.Socket,
		"started_at": info.StartTime,
	}
	if cfg.WebSocket.Enabled {
		state["ws_url"] = "ws://" + cfg.WebSocket.Listen + "/rpc"
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfg.Paths.APIState, data, 0644)
}
