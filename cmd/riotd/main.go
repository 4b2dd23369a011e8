// riotd is the RIoT platform daemon: the HTTP API, the MQTT ingestion
// loop and the optional InfluxDB mirror in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/riotcore/riot/internal/api"
	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/device"
	"github.com/riotcore/riot/internal/infrastructure/config"
	"github.com/riotcore/riot/internal/infrastructure/database"
	"github.com/riotcore/riot/internal/infrastructure/influx"
	"github.com/riotcore/riot/internal/infrastructure/logging"
	"github.com/riotcore/riot/internal/ingest"
	"github.com/riotcore/riot/internal/mailer"
	"github.com/riotcore/riot/internal/metrics"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main so every
// exit path flows through one error return.
func run(ctx context.Context) error {
	// Use default logger until config is loaded.
	log := logging.Default()
	log.Info("starting riotd", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	// Repositories and the identity resolver.
	users := auth.NewUserRepository(db.DB)
	devices := device.NewRepository(db.DB)
	records := device.NewRecordRepository(db.DB)
	tags := device.NewTagRepository(db.DB)
	resolver := auth.NewResolver(users, []byte(cfg.Security.JWT.Secret))

	// Ephemeral stores for the verification flow.
	rateLimiter := auth.NewRateLimiter(cfg.Security.RateLimitIdle())
	defer rateLimiter.Close()
	codes := auth.NewCodeStore(cfg.Security.OneTimeCodeTTL())
	defer codes.Close()

	var mail mailer.Mailer
	if cfg.Email.Enabled {
		mail = mailer.NewSMTP(cfg.Email)
		log.Info("SMTP mailer enabled", "host", cfg.Email.SMTPHost)
	} else {
		mail = mailer.NewLog(log)
		log.Info("email disabled, verification links will be logged")
	}

	collector := metrics.NewCollector(devices)
	collector.Start(ctx)
	defer collector.Close()

	// InfluxDB mirror (optional).
	var mirror ingest.Mirror
	influxClient, err := influx.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influx.ErrDisabled):
		log.Info("InfluxDB mirror disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			influxClient.Close()
		}()
		influxClient.OnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		mirror = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		Security:    cfg.Security,
		Logger:      log,
		Users:       users,
		Resolver:    resolver,
		Devices:     devices,
		Records:     records,
		Tags:        tags,
		RateLimiter: rateLimiter,
		Codes:       codes,
		Mailer:      mail,
		Collector:   collector,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API listening", "host", cfg.API.Host, "port", cfg.API.Port)

	// Ingestion daemon. Runs until the context is cancelled; a broker
	// outage keeps it cycling through reconnects, never exits.
	daemon := ingest.New(ingest.Deps{
		Dial:     ingest.NewDialer(collector.RecordDiscarded),
		Config:   cfg.MQTT,
		Resolver: resolver,
		Devices:  devices,
		Records:  records,
		Counters: collector,
		Mirror:   mirror,
		Notifier: srv.Hub(),
		Logger:   log,
	})
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	<-done

	log.Info("riotd stopped")
	return nil
}

// getConfigPath returns the configuration file path. Uses the
// RIOT_CONFIG environment variable if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("RIOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
