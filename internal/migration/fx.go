package migration

import (
	pkgdb "github.com/smallbiznis/txledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if !pkgdb.IsPostgres(conn) {
			log.Warn("non-postgres database, creating schema from models",
				zap.String("dialect", conn.Dialector.Name()),
			)
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
