// Command wt is a thin CLI client for the wtd daemon: most subcommands
// marshal their flags into JSON-RPC params, send one request over the
// daemon's Unix socket, and print the result. The *-stream subcommands
// print one JSON line per event until interrupted, and watch opens an
// interactive viewer.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agent-tui/agent-tui/internal/daemon"
	"github.com/agent-tui/agent-tui/internal/tui"
)

var version = "dev"

func main() {
	var socketPath string

	rootCmd := &cobra.Command{
		Use:          "wt",
		Short:        "Control the agent-tui daemon",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket-path", "", "Unix socket path (default: resolved from the project's daemon.json)")

	client := func() (*daemon.Client, error) {
		path := socketPath
		if path == "" {
			info, err := daemon.FindDaemonInfo("")
			if err != nil {
				return nil, fmt.Errorf("daemon not running: %w", err)
			}
			path = info.SocketPath
		}
		return daemon.NewClient(path), nil
	}

	printResult := func(result any) error {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	call := func(method string, params map[string]any) error {
		c, err := client()
		if err != nil {
			return err
		}
		resp, err := c.Call(method, params)
		if err != nil {
			return err
		}
		return printResult(resp.Result)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wt %s\n", version)
		},
	}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("ping", nil)
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Show daemon health and uptime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("health", nil)
		},
	}

	var spawnCols, spawnRows int
	var spawnCwd, spawnSession string
	spawnCmd := &cobra.Command{
		Use:   "spawn <command> [args...]",
		Short: "Spawn a new PTY session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("spawn", map[string]any{
				"command": args[0],
				"args":    args[1:],
				"cwd":     spawnCwd,
				"session": spawnSession,
				"cols":    spawnCols,
				"rows":    spawnRows,
			})
		},
	}
	spawnCmd.Flags().IntVar(&spawnCols, "cols", 80, "Terminal width")
	spawnCmd.Flags().IntVar(&spawnRows, "rows", 24, "Terminal height")
	spawnCmd.Flags().StringVar(&spawnCwd, "cwd", "", "Working directory")
	spawnCmd.Flags().StringVar(&spawnSession, "name", "", "Explicit session name")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List all known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("sessions", nil)
		},
	}

	var snapshotStripANSI, snapshotCursor, snapshotRender bool
	snapshotCmd := &cobra.Command{
		Use:   "snapshot <session>",
		Short: "Print a session's current screen contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("snapshot", map[string]any{
				"session":        args[0],
				"strip_ansi":     snapshotStripANSI,
				"include_cursor": snapshotCursor,
				"include_render": snapshotRender,
			})
		},
	}
	snapshotCmd.Flags().BoolVar(&snapshotStripANSI, "strip-ansi", false, "Strip ANSI escape sequences")
	snapshotCmd.Flags().BoolVar(&snapshotCursor, "cursor", false, "Include cursor position")
	snapshotCmd.Flags().BoolVar(&snapshotRender, "render", false, "Include the full rendered screen buffer")

	attachCmd := &cobra.Command{
		Use:   "attach <session>",
		Short: "Mark a session as the active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("attach", map[string]any{"session": args[0]})
		},
	}

	killCmd := &cobra.Command{
		Use:   "kill <session>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("kill", map[string]any{"session": args[0]})
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart <session>",
		Short: "Kill and respawn a session with the same command and size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("restart", map[string]any{"session": args[0]})
		},
	}

	resizeCmd := &cobra.Command{
		Use:   "resize <session> <cols> <rows>",
		Short: "Resize a session's PTY",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cols, rows int
			if _, err := fmt.Sscanf(args[1], "%d", &cols); err != nil {
				return fmt.Errorf("invalid cols %q: %w", args[1], err)
			}
			if _, err := fmt.Sscanf(args[2], "%d", &rows); err != nil {
				return fmt.Errorf("invalid rows %q: %w", args[2], err)
			}
			return call("resize", map[string]any{"session": args[0], "cols": cols, "rows": rows})
		},
	}

	keystrokeCmd := &cobra.Command{
		Use:   "keystroke <session> <key>",
		Short: "Send a named key (e.g. Enter, Ctrl+C) to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("keystroke", map[string]any{"session": args[0], "key": args[1]})
		},
	}

	keydownCmd := &cobra.Command{
		Use:   "keydown <session> <key>",
		Short: "Send a key-down event to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("keydown", map[string]any{"session": args[0], "key": args[1]})
		},
	}

	keyupCmd := &cobra.Command{
		Use:   "keyup <session> <key>",
		Short: "Send a key-up event to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("keyup", map[string]any{"session": args[0], "key": args[1]})
		},
	}

	typeCmd := &cobra.Command{
		Use:   "type <session> <text>",
		Short: "Type literal text into a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("type", map[string]any{"session": args[0], "text": args[1]})
		},
	}

	var waitCondition string
	var waitTimeoutMs int
	waitCmd := &cobra.Command{
		Use:   "wait <session> <text>",
		Short: "Block until text appears, disappears, or the screen stabilizes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call("wait", map[string]any{
				"session":    args[0],
				"text":       args[1],
				"condition":  waitCondition,
				"timeout_ms": waitTimeoutMs,
			})
		},
	}
	waitCmd.Flags().StringVar(&waitCondition, "condition", "present", "present | gone | stable")
	waitCmd.Flags().IntVar(&waitTimeoutMs, "timeout-ms", 5000, "Timeout in milliseconds")

	watchCmd := &cobra.Command{
		Use:   "watch <session>",
		Short: "Open an interactive terminal viewer attached to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			return tui.New(c, args[0]).Run()
		},
	}

	attachStreamCmd := &cobra.Command{
		Use:   "attach-stream <session>",
		Short: "Stream live output events from a session until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(client, "attach_stream", map[string]any{"session": args[0]})
		},
	}

	livePreviewCmd := &cobra.Command{
		Use:   "live-preview-stream <session>",
		Short: "Stream a session's screen (an init snapshot, then incremental output) until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(client, "live_preview_stream", map[string]any{"session": args[0]})
		},
	}

	var flightdeckIntervalMs int
	flightdeckCmd := &cobra.Command{
		Use:   "flightdeck-stream",
		Short: "Stream a periodic overview of all sessions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(client, "flightdeck_stream", map[string]any{"interval_ms": flightdeckIntervalMs})
		},
	}
	flightdeckCmd.Flags().IntVar(&flightdeckIntervalMs, "interval-ms", 1000, "Snapshot interval in milliseconds")

	rootCmd.AddCommand(
		versionCmd, pingCmd, healthCmd, spawnCmd, sessionsCmd, snapshotCmd,
		attachCmd, killCmd, restartCmd, resizeCmd, keystrokeCmd, keydownCmd,
		keyupCmd, typeCmd, waitCmd, watchCmd, attachStreamCmd, livePreviewCmd, flightdeckCmd,
	)

	viper.AutomaticEnv()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runStream drives a streaming RPC method, printing each event as one JSON
// line, until the daemon closes the connection or the process receives an
// interrupt.
func runStream(client func() (*daemon.Client, error), method string, params map[string]any) error {
	c, err := client()
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	return c.Stream(method, params, stop, func(payload map[string]any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	})
}
