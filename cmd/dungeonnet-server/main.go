// Package main provides the CLI entry point for the dungeonnet server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/dungeon-vr/netcore/internal/clock"
	"github.com/dungeon-vr/netcore/internal/config"
	"github.com/dungeon-vr/netcore/internal/logging"
	"github.com/dungeon-vr/netcore/internal/metrics"
	"github.com/dungeon-vr/netcore/internal/netsocket"
	"github.com/dungeon-vr/netcore/internal/recovery"
	"github.com/dungeon-vr/netcore/internal/serverconn"
	"github.com/dungeon-vr/netcore/internal/wire"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "dungeonnet-server",
		Short:   "dungeonnet-server - secure UDP connection-layer server",
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	run := runCmd()
	run.GroupID = "start"
	rootCmd.AddCommand(run)

	genCfg := genConfigCmd()
	genCfg.GroupID = "admin"
	rootCmd.AddCommand(genCfg)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the connection-layer server",
		Long:  "Accept and serve peer connections on a UDP socket until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = loaded
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			m := metrics.Default()

			udpAddr, err := net.ResolveUDPAddr("udp", cfg.Server.ListenAddr)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", cfg.Server.ListenAddr, err)
			}
			sock, err := netsocket.ListenUDP(udpAddr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.ListenAddr, err)
			}
			logger.Info("listening", logging.KeyAddress, sock.LocalAddr().String(), logging.KeyGameID, cfg.Server.GameID)

			var limiter *rate.Limiter
			if cfg.RateLimit.Enabled {
				limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.AttemptsPerSecond), cfg.RateLimit.Burst)
			}

			var httpSrv *http.Server
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				httpSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
				go func() {
					defer recovery.RecoverWithLog(logger, "metrics-http")
					if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server failed", logging.KeyError, err)
					}
				}()
				logger.Info("serving metrics", logging.KeyAddress, cfg.Metrics.Addr)
			}

			guard, _, evCh := serverconn.Spawn[netip.AddrPort](sock, cfg.Server.GameID, clock.Real{}, logger, limiter)

			connectedSince := map[netip.AddrPort]time.Time{}
			go func() {
				defer recovery.RecoverWithLog(logger, "server-events")
				for ev := range evCh {
					switch ev.Kind {
					case serverconn.EventState:
						switch ev.State {
						case serverconn.PeerPending:
							connectedSince[ev.Addr] = time.Now()
						case serverconn.PeerConnected:
							if since, ok := connectedSince[ev.Addr]; ok {
								m.RecordConnect(time.Since(since).Seconds())
							}
							logger.Info("peer connected", logging.KeyAddress, ev.Addr.String())
						case serverconn.PeerDisconnecting:
							logger.Info("peer disconnecting", logging.KeyAddress, ev.Addr.String())
						case serverconn.PeerDisconnected:
							delete(connectedSince, ev.Addr)
							m.RecordDisconnect("closed")
							logger.Info("peer disconnected", logging.KeyAddress, ev.Addr.String())
						}
					case serverconn.EventGameData:
						m.RecordGameDataReceived(len(ev.GameData))
					case serverconn.EventDropped:
						logger.Warn("server socket dropped")
					}
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received signal, shutting down", "signal", sig.String())

			if err := guard.Close(); err != nil {
				logger.Warn("guard close", logging.KeyError, err)
			}
			if httpSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(ctx)
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults built in if omitted)")
	return cmd
}

func genConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-config",
		Short: "Print a default configuration file to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			fmt.Print(cfg.String())
			fmt.Printf("# max datagram size: %s\n", humanize.Bytes(uint64(wire.SafeRecvBufferSize)))
			return nil
		},
	}
}
