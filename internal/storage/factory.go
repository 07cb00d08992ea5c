package storage

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/database"
	gormstorage "github.com/ar-recorder/recorder/internal/storage/gorm"
	"github.com/ar-recorder/recorder/internal/storage/memory"
	sqlitestorage "github.com/ar-recorder/recorder/internal/storage/sqlite"
)

// Dependencies carries the loggers handed to backends.
type Dependencies struct {
	Logger   *slog.Logger
	DBLogger zerolog.Logger
}

// NewBackend creates a catalog backend based on configuration
func NewBackend(cfg config.StorageConfig, deps Dependencies) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		m := database.NewManager(deps.DBLogger)
		if err := m.Connect(cfg.Database); err != nil {
			return nil, err
		}
		if m.ShouldSaveLocal {
			deps.Logger.Warn("Postgres unavailable, cataloguing to SQLite", "dumpPath", cfg.SQLite.DumpPath)
			return sqlitestorage.NewWithDB(m.DB, cfg.SQLite, deps.Logger), nil
		}
		return gormstorage.New(gormstorage.Dependencies{DB: m.DB, Logger: deps.Logger}), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite, deps.Logger)
	case "memory", "":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
