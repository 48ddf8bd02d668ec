// Quicksync CLI entry point.
//
// Devices that share a session id find each other through a signaling
// backend (a WebSocket relay or a shared SQLite file) and then exchange
// message content directly over a WebRTC DataChannel.
//
//	quicksync relay --addr :3000
//	quicksync serve --session S --device bob --text greeting=hello --file ./report.pdf
//	quicksync fetch --session S --from bob --message <id> --file --out report.pdf
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/quicksync/internal/config"
	"github.com/1ureka/quicksync/internal/util"
)

var version = "dev"

// globalFlags override values loaded from the config file.
type globalFlags struct {
	configPath string
	debug      bool
	signaling  string
	wsURL      string
	storePath  string
	loopback   bool
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("command failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "quicksync",
		Short:         "Share text and files directly between devices",
		Long:          `quicksync exchanges message content peer to peer over WebRTC DataChannels.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.debug {
				util.EnableDebug()
			}
			pterm.Info.Println(fmt.Sprintf("Quicksync v%s", version))
			pterm.Println()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "quicksync.yaml", "YAML configuration file")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&flags.signaling, "signaling", "", "Signaling backend: websocket or store")
	pf.StringVar(&flags.wsURL, "ws-url", "", "WebSocket relay URL")
	pf.StringVar(&flags.storePath, "store", "", "SQLite file shared by the session (store signaling)")
	pf.BoolVar(&flags.loopback, "loopback", false, "Gather loopback candidates for sessions on one host")

	root.AddCommand(
		newRelayCmd(),
		newServeCmd(&flags),
		newFetchCmd(&flags),
	)
	return root
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}

	pf := cmd.Flags()
	if pf.Changed("debug") {
		cfg.Debug = flags.debug
	}
	if cfg.Debug {
		util.EnableDebug()
	}
	if pf.Changed("signaling") {
		cfg.Signaling = config.SignalingKind(flags.signaling)
	}
	if pf.Changed("ws-url") {
		wsURL, err := normalizeWSURL(flags.wsURL)
		if err != nil {
			return cfg, err
		}
		cfg.WSURL = wsURL
	}
	if pf.Changed("store") {
		cfg.StorePath = flags.storePath
	}
	if pf.Changed("loopback") {
		cfg.IncludeLoopback = flags.loopback
	}

	return cfg, cfg.Validate()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw WebSocket URL string. A bare
// host gets wss and the relay's /ws path.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
