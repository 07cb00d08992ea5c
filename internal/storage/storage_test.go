package storage_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/storage"
	gormstorage "github.com/ar-recorder/recorder/internal/storage/gorm"
	"github.com/ar-recorder/recorder/internal/storage/memory"
	sqlitestorage "github.com/ar-recorder/recorder/internal/storage/sqlite"
)

func deps() storage.Dependencies {
	return storage.Dependencies{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		DBLogger: zerolog.Nop(),
	}
}

func TestNewBackend_Memory(t *testing.T) {
	b, err := storage.NewBackend(config.StorageConfig{Type: "memory"}, deps())
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := storage.NewBackend(config.StorageConfig{Type: "cassandra"}, deps())
	assert.Error(t, err)
}

// Compile-time interface checks
var (
	_ storage.Backend  = (*memory.Backend)(nil)
	_ storage.Backend  = (*gormstorage.Backend)(nil)
	_ storage.Backend  = (*sqlitestorage.Backend)(nil)
	_ storage.Exporter = (*memory.Backend)(nil)
	_ storage.Exporter = (*sqlitestorage.Backend)(nil)
)
