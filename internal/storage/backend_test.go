package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutware/scanrelay/internal/config"
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/pkg/logger"
)

func TestNewBackendSelectsDriver(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	for _, cfg := range []config.StorageConfig{
		{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")},
		{Driver: "jsonfile", Path: t.TempDir()},
	} {
		backend, err := NewBackend(cfg, log)
		require.NoError(t, err, "driver %s", cfg.Driver)

		// Both drivers speak the same snapshot contract.
		require.NoError(t, backend.SaveScans([]*scan.ScanRecord{
			{ID: 1, Timestamp: "2026-03-14 09:26:53", Raw: "x", DisplayData: "x", Status: scan.StatusPending},
		}))
		loaded, err := backend.LoadScans()
		require.NoError(t, err)
		assert.Len(t, loaded, 1, "driver %s", cfg.Driver)

		require.NoError(t, backend.Close())
	}

	_, err = NewBackend(config.StorageConfig{Driver: "redis", Path: "x"}, log)
	assert.Error(t, err)
}
