package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

// MaybeRunDev applies the service kind's pending migrations on boot when
// running in dev with PAYSAGA_AUTO_MIGRATE enabled. Other environments run
// cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	dir := DirFor(DefaultDir, cfg.Service.Kind)
	if err := ValidateDir(dir); err != nil {
		return err
	}
	migrator, err := NewMigrator(sqlDB, dir, logg)
	if err != nil {
		return err
	}
	ctx = logg.WithFields(ctx, map[string]any{"serviceKind": cfg.Service.Kind, "dir": dir})
	logg.Info(ctx, "auto-migrating service schema")
	return migrator.Up(ctx)
}
