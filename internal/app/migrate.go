package app

import (
	"context"
	"errors"

	"ratiowatch/internal/storage"
)

// Migrate applies the SQL files under database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := storage.Migrate(ctx, pool, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	a.Logger.Info().Strs("applied", applied).Msg("migrations applied")
	return nil
}
