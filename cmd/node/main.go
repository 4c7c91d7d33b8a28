package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"contract-mesh/pkg/agent"
	"contract-mesh/pkg/api"
	"contract-mesh/pkg/config"
	"contract-mesh/pkg/event"
	"contract-mesh/pkg/logging"
	"contract-mesh/pkg/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.LoadNode()
	var noWS bool
	cmd := &cobra.Command{
		Use:          "node",
		Short:        "contract-mesh reference worker node",
		Version:      version.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.ID == "" {
				return errors.New("node id is required (flag --id or env NODE_ID)")
			}
			if cfg.Advertise == "" {
				cfg.Advertise = advertiseURL(cfg.ListenAddr)
			}
			log := logging.New(cfg.LogLevel, cfg.LogPretty)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, !noWS, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.ID, "id", cfg.ID, "node id (overrides NODE_ID env)")
	f.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address of the node wire API")
	f.StringVar(&cfg.Advertise, "advertise", cfg.Advertise, "base URL the controller uses to reach this node")
	f.StringVar(&cfg.Controller, "controller", cfg.Controller, "controller base URL; empty runs standalone")
	f.StringVar(&cfg.Token, "token", cfg.Token, "auth token matching the controller --token (env AUTH_TOKEN)")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite file holding replicas")
	f.StringVar(&cfg.CAFile, "ca", cfg.CAFile, "CA file for controller TLS (optional)")
	f.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "client TLS certificate (for mTLS)")
	f.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "client TLS key (for mTLS)")
	f.BoolVar(&noWS, "no-ws", false, "do not open the event websocket; events arrive over HTTP only")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	f.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human readable console logs")
	return cmd
}

func run(ctx context.Context, cfg config.Node, ws bool, log zerolog.Logger) error {
	log = log.With().Str("node_id", cfg.ID).Logger()
	log.Info().Str("version", version.String()).Msg("node starting")

	db, err := agent.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := []agent.Option{
		agent.WithLogger(log),
		agent.WithEventSink(func(_ context.Context, ev event.Event) {
			log.Debug().Str("kind", string(ev.Kind())).Interface("event", ev).Msg("event applied")
		}),
	}
	if cfg.CAFile != "" || cfg.CertFile != "" {
		var tlsCfg *tls.Config
		if tlsCfg, err = api.ClientTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile); err != nil {
			return fmt.Errorf("build TLS config: %w", err)
		}
		opts = append(opts, agent.WithTLSConfig(tlsCfg))
	}
	a := agent.New(cfg.ID, db, opts...)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("advertise", cfg.Advertise).Msg("node listening")
		errCh <- srv.ListenAndServe()
	}()

	if cfg.Controller != "" {
		go func() {
			if err := a.Register(ctx, nil, cfg.Controller, cfg.Token, cfg.Advertise); err != nil {
				log.Error().Err(err).Msg("registration failed")
				return
			}
			if ws {
				_ = a.ConnectController(ctx, cfg.Controller, cfg.Token)
			}
		}()
	}

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// advertiseURL derives a loopback base URL from the listen address.
func advertiseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
