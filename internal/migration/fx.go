package migration

import (
	"github.com/smallbiznis/invoicing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the schema on startup: embedded SQL on postgres, model
// auto-migration elsewhere.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if !db.IsPostgres(conn) {
			log.Info("auto-migrating models", zap.String("dialect", conn.Dialector.Name()))
			return AutoMigrate(conn)
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		version, dirty, err := Version(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	}),
)
