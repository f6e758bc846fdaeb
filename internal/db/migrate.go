package db

import (
	"context"
	"fmt"

	"cavvy/internal/canvas"
	"cavvy/internal/catalog"
	"cavvy/internal/domain"
	"cavvy/internal/folder"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Migrate runs database migrations
func Migrate(db *gorm.DB, log zerolog.Logger) error {
	err := db.AutoMigrate(
		&domain.User{},
		&canvas.CanvasRecord{},
		&folder.FolderRecord{},
		&catalog.CanvasTypeRecord{},
		&catalog.AgentRecord{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	log.Info().Msg("Database schema migrated successfully")
	return nil
}

// SeedData writes the built-in shared canvas types and agents when the
// shared catalog is still empty.
func SeedData(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	written, err := catalog.Seed(ctx, catalog.NewRepository(db))
	if err != nil {
		return fmt.Errorf("seed shared catalog: %w", err)
	}

	if written {
		log.Info().Msg("Seeded shared catalog")
	} else {
		log.Info().Msg("Shared catalog already present")
	}
	return nil
}
