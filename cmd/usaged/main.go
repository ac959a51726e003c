package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/katosuite/usagekit/pkg/config"
	"github.com/katosuite/usagekit/pkg/httpserver"
	"github.com/katosuite/usagekit/pkg/jwt"
	"github.com/katosuite/usagekit/pkg/logger"
	"github.com/katosuite/usagekit/pkg/pg"
	"github.com/katosuite/usagekit/pkg/redis"
	"github.com/katosuite/usagekit/pkg/usageapi"
	"github.com/katosuite/usagekit/pkg/usagestore"
)

type appConfig struct {
	Log        logger.Config
	Postgres   pg.Config
	Redis      redis.Config
	HTTP       httpserver.Config
	SigningKey string `env:"JWT_SIGNING_KEY,required,notEmpty"`
}

func main() {
	ctx := context.Background()

	cfg := config.MustLoad[appConfig]()
	log := logger.FromConfig(cfg.Log, logger.WithAttrs(slog.String("service", "usaged")))

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close redis client", "error", err)
		}
	}()

	jwtSvc, err := jwt.New([]byte(cfg.SigningKey))
	if err != nil {
		return err
	}

	store := usagestore.New(pool, rdb)
	handler := usageapi.NewHandler(store, log)
	router := usageapi.Router(handler, jwtSvc,
		pg.Healthcheck(pool),
		redis.Healthcheck(rdb),
	)

	return httpserver.New(cfg.HTTP, log).Run(ctx, router)
}
