package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrFailedToLoad wraps any environment parsing failure.
var ErrFailedToLoad = errors.New("config.errors.failed_to_load")

// Load parses environment variables into a struct of type T using
// `env` tags. When a .env file exists in the working directory it is
// loaded first without overriding variables already set.
func Load[T any]() (T, error) {
	var cfg T

	// Missing .env is the normal case in production.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return cfg, errors.Join(ErrFailedToLoad, fmt.Errorf("load .env: %w", err))
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Join(ErrFailedToLoad, fmt.Errorf("parse environment: %w", err))
	}

	return cfg, nil
}

// MustLoad is Load that panics on failure. Intended for service main
// functions where a bad environment is unrecoverable.
func MustLoad[T any]() T {
	cfg, err := Load[T]()
	if err != nil {
		panic(err)
	}
	return cfg
}
