package db

import (
	"fmt"
	"time"

	"cavvy/internal/config"
	"cavvy/internal/logger"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var AppDb *gorm.DB

// gormWriter routes gorm's SQL log through zerolog.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Debug().Msgf(format, args...)
}

func dsn(cfg config.Config) string {
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v sslmode=disable",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)
}

func ConnectDb(cfg config.Config, log zerolog.Logger) (*gorm.DB, error) {
	level := gormlogger.Info
	if cfg.Environment == "production" {
		level = gormlogger.Error
	}
	gormLogger := gormlogger.New(
		gormWriter{log: logger.Component(log, "gorm")},
		gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      level,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn(cfg)), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	AppDb = db
	log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("Success connecting to db")

	return db, nil
}

func CloseDb(log zerolog.Logger) {
	if AppDb == nil {
		return
	}
	sqlDB, err := AppDb.DB()
	if err != nil {
		log.Error().Err(err).Msg("failed to get db handle")
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close db")
		return
	}
	log.Info().Msg("Closing DB")
}
