package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"order-tracker/internal/config"
)

func TestNewSQLite_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tracker.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(context.Background(), `CREATE TABLE t (id INTEGER PRIMARY KEY)`))
	_, err = s.DB().Exec(`INSERT INTO t (id) VALUES (1)`)
	require.NoError(t, err)
}

func TestMigrate_RollsBackOnFailure(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	err = s.Migrate(context.Background(),
		`CREATE TABLE ok (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE broken (`,
	)
	require.Error(t, err)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'ok'`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestNewSQLite_EnforcesForeignKeys(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	var enabled int
	require.NoError(t, s.DB().QueryRow(`PRAGMA foreign_keys`).Scan(&enabled))
	require.Equal(t, 1, enabled)

	require.NoError(t, s.Migrate(context.Background(),
		`CREATE TABLE parent (id TEXT PRIMARY KEY)`,
		`CREATE TABLE child (parent_id TEXT NOT NULL REFERENCES parent(id) ON DELETE CASCADE)`,
	))
	_, err = s.DB().Exec(`INSERT INTO child (parent_id) VALUES ('missing')`)
	require.Error(t, err)

	_, err = s.DB().Exec(`INSERT INTO parent (id) VALUES ('p')`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO child (parent_id) VALUES ('p')`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`DELETE FROM parent WHERE id = 'p'`)
	require.NoError(t, err)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM child`).Scan(&count))
	require.Equal(t, 0, count)
}
