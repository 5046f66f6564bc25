// Package main provides the CLI entry point for the dungeonnet client demo.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dungeon-vr/netcore/internal/clientconn"
	"github.com/dungeon-vr/netcore/internal/clock"
	"github.com/dungeon-vr/netcore/internal/config"
	"github.com/dungeon-vr/netcore/internal/logging"
	"github.com/dungeon-vr/netcore/internal/netsocket"
	"github.com/dungeon-vr/netcore/internal/reconnect"
	"github.com/dungeon-vr/netcore/internal/recovery"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	statusStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	disconnectText = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "dungeonnet-client",
		Short:   "dungeonnet-client - secure UDP connection-layer client",
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})

	connect := connectCmd()
	connect.GroupID = "start"
	rootCmd.AddCommand(connect)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connectCmd() *cobra.Command {
	var configPath string
	var noForm bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a server and send keepalives interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = loaded
			}

			if !noForm {
				if err := runConnectForm(cfg); err != nil {
					return err
				}
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			return runClient(cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&noForm, "no-form", false, "Skip the interactive connect form and dial immediately")
	return cmd
}

func runConnectForm(cfg *config.Config) error {
	gameIDStr := strconv.FormatUint(cfg.Client.GameID, 16)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Server address").Value(&cfg.Client.ServerAddr),
			huh.NewInput().Title("Game ID (hex)").Value(&gameIDStr),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("connect form: %w", err)
	}
	id, err := strconv.ParseUint(gameIDStr, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid game id %q: %w", gameIDStr, err)
	}
	cfg.Client.GameID = id
	return nil
}

func runClient(cfg *config.Config, logger *slog.Logger) error {
	interrupted := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer recovery.RecoverWithLog(logger, "client-signal-wait")
		<-sigCh
		close(interrupted)
	}()

	dial := func(key string) error {
		return dialOnce(cfg, logger, interrupted)
	}

	if !cfg.Client.Reconnect.Enabled {
		return dial(cfg.Client.ServerAddr)
	}

	reconnector := reconnect.NewReconnector(clock.Real{}, reconnect.Config{
		InitialDelay: cfg.Client.Reconnect.InitialDelay,
		MaxDelay:     cfg.Client.Reconnect.MaxDelay,
		Multiplier:   cfg.Client.Reconnect.Multiplier,
		Jitter:       cfg.Client.Reconnect.Jitter,
		MaxAttempts:  cfg.Client.Reconnect.MaxAttempts,
	}, dial)
	defer reconnector.Stop()

	if err := dial(cfg.Client.ServerAddr); err != nil {
		logger.Warn("initial connection attempt failed, scheduling reconnect", logging.KeyError, err)
		fmt.Println(disconnectText.Render("connection dropped, scheduling reconnect..."))
		reconnector.Schedule(cfg.Client.ServerAddr)
	}

	<-interrupted
	return nil
}

// dialOnce performs one dial-handshake-serve cycle, returning once the
// connection is cancelled (nil) or dropped by the server (non-nil).
func dialOnce(cfg *config.Config, logger *slog.Logger, interrupted <-chan struct{}) error {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Client.ServerAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cfg.Client.ServerAddr, err)
	}
	sock, err := netsocket.DialUDP(udpAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Client.ServerAddr, err)
	}

	guard, reqCh, evCh := clientconn.Spawn(sock, cfg.Client.GameID, clock.Real{}, logger)
	defer guard.Close()

	go func() {
		defer recovery.RecoverWithLog(logger, "client-interrupt-watch")
		<-interrupted
		guard.Close()
	}()

	var dropped error
	for ev := range evCh {
		switch ev.Kind {
		case clientconn.EventConnected:
			fmt.Println(statusStyle.Render("connected to " + cfg.Client.ServerAddr))
			reqCh <- clientconn.Request{SendGameData: []byte("hello")}
		case clientconn.EventDisconnected:
			fmt.Println(warnStyle.Render("disconnected"))
		case clientconn.EventGameData:
			fmt.Printf("received %s of game data\n", humanize.Bytes(uint64(len(ev.GameData))))
		case clientconn.EventDropped:
			select {
			case <-interrupted:
				dropped = nil
			default:
				dropped = fmt.Errorf("connection dropped")
			}
		}
	}

	select {
	case <-interrupted:
		return nil
	default:
	}
	return dropped
}
