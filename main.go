package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog/log"

	"rplhub/internal/cache"
	"rplhub/internal/codec"
	"rplhub/internal/config"
	"rplhub/internal/db"
	"rplhub/internal/handlers"
	applogger "rplhub/internal/logger"
	"rplhub/internal/repositories"
	"rplhub/internal/services"
	"rplhub/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applogger.Init(cfg.Log.Level, cfg.Log.Format)

	app, cleanup, err := newApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer cleanup()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.AppPort).Str("store", cfg.Store.Driver).Msg("starting server")
		if err := app.Listen(cfg.AppPort); err != nil {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-quit
	log.Info().Msg("shutting down server")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("error during Fiber shutdown")
	}
	log.Info().Msg("server gracefully stopped")
}

// stores are the repositories selected by STORE_DRIVER.
type stores struct {
	accounts    repositories.AccountRepository
	submissions repositories.SubmissionRepository
	ping        func() error
	close       func()
}

func buildStores(cfg config.StoreConfig) (*stores, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return &stores{
			accounts:    repositories.NewMockAccountRepository(),
			submissions: repositories.NewMockSubmissionRepository(),
			ping:        func() error { return nil },
			close:       func() {},
		}, nil

	case "sheet":
		wb, err := repositories.NewWorkbook(cfg.SheetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook: %w", err)
		}
		return &stores{
			accounts:    repositories.NewSheetAccountRepository(wb),
			submissions: repositories.NewSheetSubmissionRepository(wb),
			ping: func() error {
				_, err := os.Stat(wb.Path())
				return err
			},
			close: func() {},
		}, nil

	default:
		gdb, err := db.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(gdb); err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		return &stores{
			accounts:    repositories.NewGORMAccountRepository(gdb),
			submissions: repositories.NewGORMSubmissionRepository(gdb),
			ping:        sqlDB.Ping,
			close: func() {
				if err := sqlDB.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close database")
				}
			},
		}, nil
	}
}

// newApp wires the stores, optional Redis and RabbitMQ, and the routes. The
// returned cleanup releases every connection it opened.
func newApp(cfg *config.Config) (*fiber.App, func(), error) {
	st, err := buildStores(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){st.close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	checks := map[string]func() error{"store": st.ping}
	var opts []services.SubmissionOption

	if cfg.Redis.Addr != "" {
		rc := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		closers = append(closers, func() { rc.Close() })
		opts = append(opts, services.WithCache(rc, cfg.Redis.TTL))
		checks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return rc.Ping(ctx)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("submission cache enabled")
	}

	if cfg.RabbitMQURL != "" {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			// events are optional; the stores work without them
			log.Error().Err(err).Msg("RabbitMQ unavailable, submission events disabled")
		} else {
			closers = append(closers, func() {
				if err := mq.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close RabbitMQ client")
				}
			})
			opts = append(opts, services.WithPublisher(mq))
			if err := mq.ConsumeSubmissionEvents(rabbitmq.LogSubmissionEvent); err != nil {
				log.Error().Err(err).Msg("failed to start submission event consumer")
			}
		}
	}

	creds := services.NewCredentialStore(st.accounts, services.CredentialOptions{
		JWTSecret:  cfg.Auth.JWTSecret,
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	subs, err := services.NewSubmissionStore(st.submissions, services.SubmissionOptions{
		ClassOptions:            cfg.Form.ClassOptions,
		CohortOptions:           cfg.Form.CohortOptions,
		RequireArtifactFilename: cfg.Form.RequireArtifactFilename,
		Status: codec.StatusOptions{
			DoneLabels:   cfg.Status.DoneLabels,
			DoneLabel:    cfg.Status.DoneLabel,
			NotDoneLabel: cfg.Status.NotDoneLabel,
			Write:        codec.StatusEncoding(cfg.Status.WriteEncoding),
		},
	}, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{AppName: "RPL Practicum Hub"})
	app.Use(logger.New())
	handlers.SetupRoutes(app, handlers.Deps{
		Credentials:    creds,
		Submissions:    subs,
		AdminUsernames: cfg.Auth.AdminUsernames,
		Checks:         checks,
	})
	return app, cleanup, nil
}
