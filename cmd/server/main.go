package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/carealert/internal/api"
	"github.com/good-yellow-bee/carealert/internal/api/health"
	"github.com/good-yellow-bee/carealert/internal/classifier"
	"github.com/good-yellow-bee/carealert/internal/dispatch"
	"github.com/good-yellow-bee/carealert/internal/engine"
	"github.com/good-yellow-bee/carealert/internal/intake"
	"github.com/good-yellow-bee/carealert/internal/logging"
	"github.com/good-yellow-bee/carealert/internal/metrics"
	"github.com/good-yellow-bee/carealert/internal/notifier"
	"github.com/good-yellow-bee/carealert/internal/storage"
	"github.com/good-yellow-bee/carealert/internal/store"
	"github.com/good-yellow-bee/carealert/internal/ws"
	"github.com/good-yellow-bee/carealert/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "carealert-server",
	Short: "CareAlert Server - symptom triage and caregiver notification",
	Long: `CareAlert Server classifies patient symptom reports, keeps the alert
log, and notifies caregivers of urgent alerts until they are acknowledged.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.VersionString("carealert-server"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path, .yaml or .toml (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return err
		}
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	secret := cfg.Auth.Secret()
	if len(secret) == 0 && !cfg.Auth.Disabled {
		return goerr.New("operator token secret is not set; set auth.disabled to run without authentication",
			goerr.V("env", cfg.Auth.SecretEnv))
	}
	if cfg.Auth.Disabled {
		secret = nil
		logger.Warn("operator authentication disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.With(ctx, logger)

	app, err := build(ctx, cfg, secret, logger)
	if err != nil {
		return err
	}
	defer app.close()

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	logger.Info("starting carealert-server",
		"version", config.Version,
		"http", cfg.Server.HTTPAddress,
		"persistence", cfg.Database.Path != "",
	)

	if err := app.run(ctx); err != nil {
		logger.Error("server stopped with error", logging.ErrAttr(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(c LoggingConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, level, format, c.Stacktrace), nil
}

// app holds the wired components of a running server.
type app struct {
	cfg        *Config
	db         *storage.SQLiteStorage
	dispatcher *dispatch.Dispatcher
	fanout     *notifier.Fanout
	hub        *ws.Hub
	watcher    *classifier.Watcher
	intake     *intake.Intake
	api        *api.Server
	metrics    *metrics.Server
}

func build(ctx context.Context, cfg *Config, secret []byte, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	storeOpts := &store.Options{}
	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
			return nil, goerr.Wrap(err, "create data directory", goerr.V("path", cfg.Database.Path))
		}
		a.db = storage.NewSQLiteStorage(cfg.Database.Path)
		if err := a.db.Open(); err != nil {
			return nil, err
		}
		if err := a.db.Migrate(); err != nil {
			return nil, err
		}
		storeOpts.Backend = a.db.Alerts()
	}
	alertStore := store.New(storeOpts)
	if a.db != nil {
		n, err := alertStore.Load(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("alert log loaded", "path", cfg.Database.Path, "alerts", n)
	}

	table := classifier.DefaultTable()
	if cfg.Classifier.RulesFile != "" {
		t, err := classifier.LoadTableFromFile(cfg.Classifier.RulesFile)
		if err != nil {
			return nil, err
		}
		table = t
	}
	cls := classifier.New(table)
	metrics.ObserveRuleReload(table.EnabledRules(), nil)
	if cfg.Classifier.Watch {
		opts := classifier.DefaultWatcherOptions()
		opts.OnReload = func(t *classifier.Table, err error) {
			enabled := 0
			if t != nil {
				enabled = t.EnabledRules()
			}
			metrics.ObserveRuleReload(enabled, err)
		}
		w, err := classifier.NewWatcher(cfg.Classifier.RulesFile, cls, opts)
		if err != nil {
			return nil, err
		}
		a.watcher = w
	}

	a.dispatcher = dispatch.New(alertStore, &dispatch.Options{
		Threshold:        cfg.Dispatch.Threshold,
		CriticalSeverity: cfg.Dispatch.CriticalSeverity,
		AutoExpire:       *cfg.Dispatch.AutoExpire,
		Timeout:          cfg.Dispatch.Timeout,
	})
	a.dispatcher.Watch(alertStore)
	a.dispatcher.Subscribe(metrics.NewDispatchObserver(nil))
	if a.db != nil {
		a.dispatcher.Subscribe(dispatch.NewHistoryRecorder(a.db.Notifications(), nil))
	}

	notifiers, err := cfg.notifiers()
	if err != nil {
		return nil, err
	}
	if len(notifiers) > 0 {
		a.fanout = notifier.NewFanout(&notifier.FanoutOptions{
			QueueSize:      cfg.Notifications.QueueSize,
			SendTimeout:    cfg.Notifications.SendTimeout,
			RateLimit:      *cfg.Notifications.RateLimit,
			NotifyResolved: *cfg.Notifications.NotifyResolved,
			IncludeText:    cfg.Notifications.IncludeText,
			OnResult:       metrics.ObserveDelivery,
			OnDrop:         metrics.ObserveDrop,
		})
		for _, n := range notifiers {
			a.fanout.Register(n)
		}
		a.dispatcher.Subscribe(a.fanout)
		logger.Info("external notifiers registered", "notifiers", a.fanout.Names())
	}

	a.hub = ws.New(&ws.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
	a.dispatcher.Subscribe(a.hub)

	eng := engine.New(cls, alertStore, a.dispatcher, &engine.Options{
		OnReport: metrics.ObserveReport,
		OnReject: metrics.ObserveRejected,
	})

	if cfg.Intake.SpoolFile != "" {
		in, err := intake.New(cfg.Intake.SpoolFile, eng, &intake.SpoolOptions{
			FromStart:    cfg.Intake.FromStart,
			PollInterval: cfg.Intake.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		a.intake = in
	}

	deps := api.Deps{
		Triage: eng,
		Logger: logger,
		Stream: a.hub,
	}
	if a.db != nil {
		deps.History = a.db.Notifications()
	}
	srv, err := api.New(&api.Config{
		Address:         cfg.Server.HTTPAddress,
		JWTSecret:       secret,
		JWTIssuer:       cfg.Auth.Issuer,
		HTTPTLSEnabled:  cfg.Server.TLS.Enabled,
		HTTPTLSCertFile: cfg.Server.TLS.CertFile,
		HTTPTLSKeyFile:  cfg.Server.TLS.KeyFile,
		RateLimitPerIP:  cfg.Server.RateLimitPerIP,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		Verbose:         cfg.Verbose,
	}, deps)
	if err != nil {
		return nil, err
	}
	if a.db != nil {
		srv.RegisterHealthChecker(health.NewSQLiteChecker(a.db.DB()))
	}
	srv.RegisterHealthChecker(health.NewRulesChecker(eng.Rules))
	a.api = srv

	if cfg.Server.MetricsAddress != "" {
		a.metrics = metrics.NewServer(cfg.Server.MetricsAddress)
	}

	ok = true
	return a, nil
}

// run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.api.Run(ctx) })
	g.Go(func() error { return a.hub.Run(ctx) })

	if a.fanout != nil {
		g.Go(func() error { return a.fanout.Run(ctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.intake != nil {
		g.Go(func() error { return a.intake.Run(ctx) })
	}
	if a.metrics != nil {
		g.Go(a.metrics.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.metrics.Shutdown(shutdownCtx)
		})
	}
	if a.db != nil && a.cfg.Database.HistoryRetention > 0 {
		g.Go(func() error {
			a.pruneHistory(ctx)
			return nil
		})
	}

	return g.Wait()
}

// pruneHistory deletes notification history older than the retention
// period, checking at most hourly.
func (a *app) pruneHistory(ctx context.Context) {
	logger := logging.From(ctx)
	retention := a.cfg.Database.HistoryRetention
	interval := min(retention, time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := a.db.Notifications().DeleteBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("prune notification history failed", logging.ErrAttr(err))
		} else if n > 0 {
			logger.Info("pruned notification history", "deleted", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.fanout != nil {
		_ = a.fanout.Close()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.intake != nil {
		_ = a.intake.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
