package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/flightbot/flightbot-backend/internal/api"
	"github.com/flightbot/flightbot-backend/internal/collector"
	"github.com/flightbot/flightbot-backend/internal/config"
	"github.com/flightbot/flightbot-backend/internal/database"
	"github.com/flightbot/flightbot-backend/internal/dedup"
	"github.com/flightbot/flightbot-backend/internal/extraction"
	"github.com/flightbot/flightbot-backend/internal/metrics"
	"github.com/flightbot/flightbot-backend/internal/orchestrator"
	"github.com/flightbot/flightbot-backend/internal/rasterize"
	"github.com/flightbot/flightbot-backend/internal/render"
	"github.com/flightbot/flightbot-backend/internal/repository"
	"github.com/flightbot/flightbot-backend/internal/repository/memory"
	"github.com/flightbot/flightbot-backend/internal/repository/postgres"
	"github.com/flightbot/flightbot-backend/internal/services"
	"github.com/flightbot/flightbot-backend/internal/telegram"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	// Session store: Postgres when configured, in-memory otherwise.
	var sessions repository.SessionRepository
	if cfg.HasDatabase() {
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()

		if err := database.RunMigrations(cfg.Database); err != nil {
			logrus.WithError(err).Fatal("failed to run migrations")
		}
		sessions = postgres.NewSessionRepository(db.DB, cfg.Session.MaxFiles)
	} else {
		logrus.Warn("no database configured, using in-memory session store (single instance only)")
		sessions = memory.NewSessionRepository(cfg.Session.MaxFiles)
	}

	// Webhook dedup: Redis when configured.
	var deduper dedup.Deduper = dedup.Noop{}
	if cfg.HasRedis() {
		rd, err := dedup.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Session.TTL)
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to redis")
		}
		defer rd.Close()
		deduper = rd
	}

	tg, err := telegram.NewClient(cfg.Telegram.Token)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create telegram client")
	}

	extractor, err := extraction.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create extraction client")
	}

	orch := orchestrator.New(
		sessions,
		tg,
		rasterize.New(cfg.Render.DPI),
		extractor,
		render.NewRenderer(cfg.Render.AgencyName),
		cfg.Telegram.FetchTimeout,
		cfg.OpenAI.Timeout,
	)

	svc := services.New(
		sessions,
		collector.New(sessions),
		orch,
		tg,
		deduper,
		cfg.Telegram.WebhookSecret,
		cfg.Telegram.PublicURL,
	)

	app := fiber.New(fiber.Config{
		AppName: "Flightbot Backend",
	})
	app.Use(recover.New())
	app.Use(logger.New())

	api.SetupRoutes(app, svc)

	// Retention sweep: stale sessions, whatever their status, are expired
	// so nothing stays stuck in processing forever.
	go sweep(sessions, cfg.Session.TTL, cfg.Session.SweepInterval)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logrus.WithField("addr", addr).Info("flightbot backend starting")
	if err := app.Listen(addr); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}

func sweep(sessions repository.SessionRepository, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := sessions.ExpireStale(ctx, time.Now().UTC().Add(-ttl))
		cancel()
		if err != nil {
			logrus.WithError(err).Warn("expiry sweep failed")
			continue
		}
		if n > 0 {
			metrics.SessionsExpired.Add(float64(n))
			logrus.WithField("expired", n).Info("expiry sweep")
		}
	}
}
