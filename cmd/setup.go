package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/crate/internal/repositories"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file if needed, initializes the database and runs migrations.
//
// With the redis store backend it also checks that Redis is reachable.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath

	var config *shared.Config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
			config = shared.DefaultConfig()
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err = shared.LoadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using defaults", "error", err)
				config = shared.DefaultConfig()
			}
		}
	}
	r.config = config

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)

	if config.Store.Backend == "redis" {
		client, err := repositories.NewRedisClient(ctx, config.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
		}
		client.Close()
		r.logger.Info("redis store reachable", "url", config.Store.RedisURL)
	}

	r.writePlain("✓ Database ready at %s\n", config.Database.Path)
	r.writePlain("✓ Intent flags stored in %s (namespace %q)\n", config.Store.Backend, config.Store.Namespace)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set identity.client_id and identity.client_secret in %s\n", configPath)
	r.writePlain("2. Run 'crate signup <email>' or 'crate login <email>'\n")
	return nil
}
