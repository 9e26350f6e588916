package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/comptrack/internal/api"
	"github.com/goodtune/comptrack/internal/auth"
	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/comp"
	"github.com/goodtune/comptrack/internal/config"
	"github.com/goodtune/comptrack/internal/metrics"
	"github.com/goodtune/comptrack/internal/notice"
	"github.com/goodtune/comptrack/internal/opday"
	"github.com/goodtune/comptrack/internal/session"
	"github.com/goodtune/comptrack/internal/storage/redis"
	"github.com/goodtune/comptrack/internal/systemd"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the comptrack server",
	Long:  `Start the comptrack API server, the session monitors, the ledger retention scheduler and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// A .env file is optional; real environment variables win.
	envErr := godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	if envErr == nil {
		logger.Debug().Msg("Loaded environment from .env")
	}

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting comptrack")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := redis.Open(cfg.Storage.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	clk := clock.Real{}

	dayConfig, err := resolverConfig(cfg.OperationalDay)
	if err != nil {
		return err
	}
	resolver, err := opday.New(dayConfig, clk)
	if err != nil {
		return fmt.Errorf("failed to initialize operational day resolver: %w", err)
	}

	logger.Info().
		Str("day", resolver.Current().String()).
		Str("turn", string(resolver.CurrentTurn())).
		Msg("Operational day resolver initialized")

	registry, err := session.NewRegistry(
		registryConfig(cfg.Session),
		clk,
		notice.NewLogSink(logger),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize session registry: %w", err)
	}

	provider := auth.NewProvider(
		store.Sessions(),
		cfg.Auth.JWTSecret,
		parseDuration(cfg.Auth.TokenTTL, 12*time.Hour),
		clk,
		logger,
	)

	comps := comp.NewService(store.Comps(), resolver, clk, logger)

	retention := comp.NewRetentionScheduler(store.Comps(), resolver, clk, cfg.Ledger.RetentionDays, logger)
	retention.Start()

	apiServer := api.NewServer(api.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		ReadTimeout:     parseDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout:    parseDuration(cfg.Server.WriteTimeout, 15*time.Second),
		ShutdownTimeout: parseDuration(cfg.Server.ShutdownTimeout, 10*time.Second),
		UserHeader:      cfg.Auth.UserHeader,
		NameHeader:      cfg.Auth.NameHeader,
		PushInterval:    parseDuration(cfg.Session.TickInterval, time.Second),
	}, api.Deps{
		Auth:     provider,
		Registry: registry,
		Comps:    comps,
		Resolver: resolver,
		Health:   store,
		Clock:    clk,
	}, logger)

	if sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("comptrack startup complete")
	logger.Info().Msgf("API: http://%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	if sent, err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else if sent {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, sweeping ledger retention")
			if _, err := retention.Sweep(cmd.Context()); err != nil {
				logger.Error().Err(err).Msg("Ledger retention sweep failed")
			}
			continue
		}
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	retention.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	// Open sessions are released without a sign-out; their tokens stay
	// valid until they expire or the user signs in again.
	registry.CloseAll()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("comptrack stopped")

	return nil
}

// resolverConfig converts the operational day section.
func resolverConfig(cfg config.OperationalDayConfig) (opday.Config, error) {
	offset, err := time.ParseDuration(cfg.UTCOffset)
	if err != nil {
		return opday.Config{}, fmt.Errorf("invalid operational_day.utc_offset %q: %w", cfg.UTCOffset, err)
	}

	return opday.Config{
		UTCOffset:        offset,
		CutoverHour:      cfg.CutoverHour,
		MorningStartHour: cfg.MorningStartHour,
		NightStartHour:   cfg.NightStartHour,
	}, nil
}

// registryConfig converts the session section.
func registryConfig(cfg config.SessionConfig) session.RegistryConfig {
	var events []session.EventKind
	if cfg.ActivityEvents != nil {
		events = make([]session.EventKind, 0, len(cfg.ActivityEvents))
		for _, e := range cfg.ActivityEvents {
			events = append(events, session.EventKind(e))
		}
	}

	return session.RegistryConfig{
		Monitor: session.Config{
			Timeout:        parseDuration(cfg.Timeout, session.DefaultTimeout),
			WarningTime:    parseDuration(cfg.WarningTime, session.DefaultWarningTime),
			ActivityEvents: events,
			TickInterval:   parseDuration(cfg.TickInterval, session.DefaultTickInterval),
			SignOutTimeout: parseDuration(cfg.SignOutTimeout, session.DefaultSignOutTimeout),
		},
		MaxSessions: cfg.MaxSessions,
		InboxSize:   cfg.InboxSize,
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
