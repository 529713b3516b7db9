package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heap-analysis/pkg/config"
)

func TestNewGormDB_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(dir, "catalog.db"),
	}

	db, err := NewGormDB(cfg)
	require.NoError(t, err)
	require.NotNil(t, db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	assert.NoError(t, sqlDB.Close())
}

func TestNewGormDB_UnsupportedType(t *testing.T) {
	cfg := &config.DatabaseConfig{Type: "oracle"}

	db, err := NewGormDB(cfg)
	assert.Nil(t, db)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestOpen_MigratesSchema(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(dir, "catalog.db"),
	}

	cat, err := Open(cfg)
	require.NoError(t, err)
	defer cat.Close()

	// Schema exists: a save goes through without manual migration.
	rec := sampleRecord(t, "/data/app.hprof")
	require.NoError(t, cat.Save(context.Background(), rec))

	assert.NoError(t, cat.HealthCheck(context.Background()))
	assert.NotNil(t, cat.DB())
}
