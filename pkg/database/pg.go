package database

import (
	"fmt"
	"sync"

	"github.com/deskhub/pkg/config"
	"github.com/deskhub/pkg/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	db          *gorm.DB
	err         error
	client_once sync.Once
)

func DSN(dbc config.Database) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbc.Host, dbc.Port, dbc.User, dbc.Pass, dbc.Name)
}

// InitDB opens the shared connection and migrates the schema. It panics when
// the database is unreachable.
func InitDB(dbc config.Database, log *logging.Logger) {
	client_once.Do(func() {
		log = log.Sub("database")
		db, err = gorm.Open(
			postgres.New(
				postgres.Config{
					DSN:                  DSN(dbc),
					PreferSimpleProtocol: true,
				},
			),
			&gorm.Config{
				DisableForeignKeyConstraintWhenMigrating: false,
				Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
			},
		)
		if err != nil {
			log.Error().Err(err).Msg("failed to initialize database")
			panic(err)
		}

		sqlDB, err := db.DB()
		if err != nil {
			log.Error().Err(err).Msg("failed to get underlying database connection")
			panic(err)
		}

		if err := sqlDB.Ping(); err != nil {
			log.Error().Err(err).Str("host", dbc.Host).Msg("failed to ping database")
			panic(err)
		}

		log.Info().Str("host", dbc.Host).Str("name", dbc.Name).Msg("database connection established")

		if err := AutoMigrate(db); err != nil {
			log.Error().Err(err).Msg("migration failed")
			panic(err)
		}

		log.Info().Msg("database migrations completed")
	})
}

func DBClient() *gorm.DB {
	if db == nil {
		panic("Postgres is not initialized. Call InitDB first.")
	}
	return db
}
