package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/clankbot/clank/internal/auth"
	"github.com/clankbot/clank/internal/bot"
	"github.com/clankbot/clank/internal/commands"
	"github.com/clankbot/clank/internal/filter"
	"github.com/clankbot/clank/internal/logging"
	"github.com/clankbot/clank/internal/metrics"
	"github.com/clankbot/clank/internal/ollama"
	"github.com/clankbot/clank/internal/profile"
	"github.com/clankbot/clank/internal/resource"
	"github.com/clankbot/clank/internal/twitch"
	"github.com/clankbot/clank/internal/version"
	"github.com/clankbot/clank/store"
	"github.com/clankbot/clank/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "clank",
	Short: "A Twitch chat bot that chimes in with locally generated LLM messages.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is a convenience for direct runs; service managers
		// inject the environment themselves.
		_ = godotenv.Load()
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		p := &profile.Profile{
			Driver:      viper.GetString("driver"),
			DSN:         viper.GetString("dsn"),
			Channels:    profile.SplitList(viper.GetString("channels")),
			LogLevel:    viper.GetString("log-level"),
			LogFormat:   viper.GetString("log-format"),
			MetricsAddr: viper.GetString("metrics-addr"),
			Version:     version.String(),
		}
		p.FromEnv()
		if err := p.Validate(); err != nil {
			return err
		}
		return run(p)
	},
}

func init() {
	rootCmd.PersistentFlags().String("driver", "", "database driver (sqlite, mysql)")
	rootCmd.PersistentFlags().String("dsn", "", "SQLite database path")
	rootCmd.PersistentFlags().String("channels", "", "comma-separated channels to join")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Prometheus listen address (empty disables)")

	for _, flag := range []string{"driver", "dsn", "channels", "log-level", "log-format", "metrics-addr"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func run(p *profile.Profile) error {
	logger := logging.Init(logging.FromStrings(p.LogLevel, p.LogFormat))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence.
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	st := store.New(dbDriver, p, logging.For("store"))
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// Credentials.
	key, err := auth.EnsureKey(p.TokenEncryptionKey, logging.For("auth"))
	if err != nil {
		return err
	}
	oauthClient := auth.NewOAuthClient(p.TwitchClientID, p.TwitchClientSecret)
	authMgr := auth.NewManager(st, oauthClient, key, logging.For("auth"))
	if err := authMgr.ValidateStartup(ctx, p.BootstrapAccessToken, p.BootstrapRefreshToken); err != nil {
		return fmt.Errorf("authentication startup check: %w", err)
	}

	// Inference.
	inference := ollama.New(p.OllamaURL, p.OllamaTimeout, logging.For("ollama"))
	if err := inference.ValidateStartupModel(ctx, p.OllamaModel); err != nil {
		return fmt.Errorf("inference startup check: %w", err)
	}

	// Content filter.
	var contentFilter filter.Filter = filter.Noop{}
	if p.ContentFilterEnabled {
		contentFilter = filter.New(p.BlockedWordsFile, logging.For("filter"))
	}

	// Metrics.
	recorder := metrics.NewRecorder(st, logging.For("metrics"))
	var exporter *metrics.Exporter
	if p.MetricsAddr != "" {
		exporter = metrics.NewExporter()
	}

	// Transport.
	transport := twitch.NewClient(twitch.Config{
		Channels:             p.Channels,
		KnownBots:            p.KnownBots,
		MaxReconnectAttempts: p.MaxReconnectAttempts,
		BanRetryDelay:        time.Duration(p.BanRetryDelay) * time.Second,
	}, authMgr, contentFilter, logging.For("twitch"))

	// Coordinator and commands.
	coordinator := bot.NewCoordinator(bot.Options{
		Store:        st,
		Ingress:      contentFilter,
		Inference:    inference,
		Emitter:      transport,
		Recorder:     recorder,
		Exporter:     exporter,
		Logger:       logging.For("bot"),
		DefaultModel: p.OllamaModel,
	})
	commandMgr := commands.NewManager(st, inference, transport, recorder, p.OllamaModel, logging.For("commands"))

	transport.OnMessage(coordinator.HandleMessage)
	transport.OnModeration(coordinator.HandleModeration)
	transport.OnCommand(func(ev twitch.CommandEvent) {
		commandMgr.Handle(ctx, ev)
	})

	// Resource monitoring and retention.
	monitor := resource.NewMonitor(st, recorder,
		resource.Thresholds{
			MemoryWarningMB:     float64(p.MemoryWarningMB),
			MemoryCriticalMB:    float64(p.MemoryCriticalMB),
			DiskWarningPercent:  p.DiskWarningPercent,
			DiskCriticalPercent: p.DiskCriticalPercent,
		},
		resource.Retention{
			MessageDays: p.MessageRetentionDays,
			MetricDays:  p.MetricsRetentionDays,
		},
		logging.For("resource"))
	if err := monitor.StartCleanupSchedule(p.CleanupIntervalMinutes); err != nil {
		return fmt.Errorf("start cleanup schedule: %w", err)
	}
	defer monitor.Stop()

	coordinator.Start(ctx)
	defer coordinator.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return transport.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return coordinator.SweepContextCache(gctx) })
	g.Go(func() error {
		store.RunHealthProbe(gctx, st)
		return nil
	})
	if exporter != nil {
		g.Go(func() error { return exporter.Serve(gctx, p.MetricsAddr, logging.For("metrics")) })
		g.Go(func() error { return syncGauges(gctx, exporter, transport, inference, st) })
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, terminationSignals...)
	go func() {
		sig := <-sigs
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	printGreetings(p)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// syncGauges mirrors the live state machines into Prometheus gauges.
func syncGauges(ctx context.Context, e *metrics.Exporter, transport *twitch.Client, inference *ollama.Client, st *store.Store) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.SetConnState(int(transport.State()))
			e.SetServiceState(int(inference.Health().State()))
			e.SetCircuitOpen(st.Health().State() == store.HealthUnavailable)
		}
	}
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("clank %s started\n", p.Version)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Channels: %v\n", p.Channels)
	fmt.Printf("Inference: %s (model %s)\n", p.OllamaURL, p.OllamaModel)
	if p.MetricsAddr != "" {
		fmt.Printf("Metrics: http://%s/metrics\n", p.MetricsAddr)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
