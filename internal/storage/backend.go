package storage

import (
	"fmt"

	"github.com/scoutware/scanrelay/internal/config"
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/internal/storage/jsonfile"
	"github.com/scoutware/scanrelay/internal/storage/sqlite"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// Backend persists the relay's durable state: the scan history snapshot and
// the operator settings, independently keyed. State is read once at startup
// and written back on its respective mutation; scan writes are full
// snapshots, idempotent and order-insensitive.
type Backend interface {
	LoadScans() ([]*scan.ScanRecord, error)
	SaveScans(records []*scan.ScanRecord) error
	LoadSettings() (settings.Settings, bool, error)
	SaveSettings(s settings.Settings) error
	Close() error
}

// NewBackend builds the storage backend named by the config.
func NewBackend(cfg config.StorageConfig, log *logger.Logger) (Backend, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.New(cfg.Path, log)
	case "jsonfile":
		return jsonfile.New(cfg.Path, log)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
