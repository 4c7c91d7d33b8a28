package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"contract-mesh/pkg/api"
	"contract-mesh/pkg/auth"
	"contract-mesh/pkg/config"
	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/db"
	"contract-mesh/pkg/engine"
	"contract-mesh/pkg/event"
	"contract-mesh/pkg/health"
	"contract-mesh/pkg/logging"
	"contract-mesh/pkg/metrics"
	"contract-mesh/pkg/nodeclient"
	"contract-mesh/pkg/registry"
	"contract-mesh/pkg/replica"
	"contract-mesh/pkg/store"
	"contract-mesh/pkg/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := config.LoadController()
	root := &cobra.Command{
		Use:          "controller",
		Short:        "contract-mesh controller: node registry, replication and contract execution",
		Version:      version.String(),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human readable console logs")
	root.AddCommand(serveCmd(&cfg), tokenCmd(&cfg))
	return root
}

func serveCmd(cfg *config.Controller) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the controller API and background loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(cfg.LogLevel, cfg.LogPretty)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address")
	f.StringVar(&cfg.Token, "token", cfg.Token, "static API token (optional)")
	f.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HMAC secret for API JWTs")
	f.StringVar(&cfg.StateStore, "state-store", cfg.StateStore, "state store backend: memory|consul (consul requires build tag consul)")
	f.StringVar(&cfg.ConsulAddr, "consul-addr", cfg.ConsulAddr, "consul address (when state-store=consul)")
	f.StringVar(&cfg.ContractStore, "contract-store", cfg.ContractStore, "contract store backend: memory|mysql")
	f.StringVar(&cfg.MySQLDSN, "mysql-dsn", cfg.MySQLDSN, "MySQL DSN; empty builds one from MYSQL_* env")
	f.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "timeout of every node call")
	f.IntVar(&cfg.RecoveryAttempts, "recovery-attempts", cfg.RecoveryAttempts, "restart attempts before a node is marked inactive")
	f.DurationVar(&cfg.RecoveryInterval, "recovery-interval", cfg.RecoveryInterval, "pause between restart attempts")
	f.DurationVar(&cfg.HealthInterval, "health-interval", cfg.HealthInterval, "period of the fleet health sweep (0 disables)")
	f.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "period of the state re-push pass (0 disables)")
	f.DurationVar(&cfg.ScheduleInterval, "schedule-interval", cfg.ScheduleInterval, "period of time trigger publication (0 disables)")
	f.StringVar(&cfg.Resolver, "resolver", cfg.Resolver, "reconciliation primary: first|latest|majority")
	f.StringVar(&cfg.AlertWebhook, "alert-webhook", cfg.AlertWebhook, "URL to POST node alerts to (optional)")
	f.Float64Var(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "API requests per second (0 disables)")
	f.IntVar(&cfg.RateBurst, "rate-burst", cfg.RateBurst, "API burst size")
	f.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS cert path (enables HTTPS if set with --tls-key)")
	f.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS key path (enables HTTPS if set with --tls-cert)")
	f.StringVar(&cfg.ClientCA, "client-ca", cfg.ClientCA, "require and verify client certs using this CA (optional)")
	return cmd
}

func tokenCmd(cfg *config.Controller) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "mint an API JWT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != auth.RoleAdmin && role != auth.RoleNode {
				return fmt.Errorf("role must be %s or %s", auth.RoleAdmin, auth.RoleNode)
			}
			tok, err := auth.NewSigner(cfg.JWTSecret).Generate(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HMAC secret shared with the controller")
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "token role: admin|node")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serve(ctx context.Context, cfg config.Controller, log zerolog.Logger) error {
	log.Info().Str("version", version.String()).Msg("controller starting")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	client := nodeclient.New(nil, cfg.ProbeTimeout)

	var alerter health.Alerter = health.NewLogAlerter(log)
	if cfg.AlertWebhook != "" {
		alerter = health.NewWebhookAlerter(cfg.AlertWebhook, nil, log)
	}
	mon := health.NewMonitor(
		health.WithClient(client),
		health.WithRecovery(cfg.RecoveryAttempts, cfg.RecoveryInterval),
		health.WithAlerter(alerter),
		health.WithMetrics(m),
		health.WithLogger(log),
	)
	reg := registry.New(mon, log)
	mon.Attach(reg)

	resolver, err := replica.ResolverByName(cfg.Resolver)
	if err != nil {
		return err
	}
	rep := replica.New(client, reg, replica.WithResolver(resolver), replica.WithMetrics(m), replica.WithLogger(log))

	stateStore, err := openStateStore(cfg, log)
	if err != nil {
		return err
	}
	mgr := store.NewManager(stateStore, rep, log)

	contracts, err := openContractStore(cfg)
	if err != nil {
		return err
	}
	eng := engine.New(contracts, mgr, engine.WithMetrics(m), engine.WithLogger(log))

	bus := event.NewBus(event.DefaultBuffer, log)
	if err := event.NewProcessor(eng, contracts, log).Register(bus); err != nil {
		return err
	}
	if err := bus.Start(ctx); err != nil {
		return err
	}
	hub := api.NewWSHub(log)
	pub := event.NewPublisher(reg, event.Chain{hub, event.NewHTTPNotifier(client)}, bus,
		event.WithNotifyTimeout(cfg.ProbeTimeout),
		event.WithPublisherMetrics(m),
		event.WithPublisherLogger(log),
	)

	go mon.Run(ctx, reg, cfg.HealthInterval)
	go mgr.RunSync(ctx, cfg.SyncInterval)
	go event.NewScheduler(pub, cfg.ScheduleInterval, log).Run(ctx)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	server := api.NewServer(api.Deps{
		Registry:       reg,
		Contracts:      contracts,
		Engine:         eng,
		State:          mgr,
		Replicator:     rep,
		Publisher:      pub,
		Hub:            hub,
		Monitor:        mon,
		Gatherer:       promReg,
		Token:          cfg.Token,
		Signer:         auth.NewSigner(cfg.JWTSecret),
		Limiter:        limiter,
		Log:            log,
		HealthInterval: cfg.HealthInterval,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Bool("tls", cfg.TLSCert != "").Msg("controller listening")
		errCh <- listen(srv, cfg)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	hub.Close()
	pub.Wait()
	bus.Close()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func listen(srv *http.Server, cfg config.Controller) error {
	if cfg.TLSCert == "" || cfg.TLSKey == "" {
		return srv.ListenAndServe()
	}
	if cfg.ClientCA == "" {
		return srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	}
	tlsCfg, err := api.ServerTLSConfig(cfg.TLSCert, cfg.TLSKey, cfg.ClientCA)
	if err != nil {
		return fmt.Errorf("build TLS config: %w", err)
	}
	srv.TLSConfig = tlsCfg
	return srv.ListenAndServeTLS("", "")
}

func openStateStore(cfg config.Controller, log zerolog.Logger) (store.StateStore, error) {
	switch cfg.StateStore {
	case "memory":
		return store.NewMemory(), nil
	case "consul":
		return store.NewConsulStore(cfg.ConsulAddr, log)
	}
	return nil, fmt.Errorf("unsupported state store %q", cfg.StateStore)
}

func openContractStore(cfg config.Controller) (contract.Store, error) {
	switch cfg.ContractStore {
	case "memory":
		return contract.NewMemoryStore(), nil
	case "mysql":
		gdb, err := db.Open(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		gs, err := contract.NewGormStore(gdb)
		if err != nil {
			return nil, err
		}
		return gs, nil
	}
	return nil, fmt.Errorf("unsupported contract store %q", cfg.ContractStore)
}
