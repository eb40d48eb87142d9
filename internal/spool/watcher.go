package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scoutware/scanrelay/internal/config"
	"github.com/scoutware/scanrelay/internal/relay"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// settleDelay gives a producer time to finish writing a payload file after
// the create event fires. Payload files are tiny.
const settleDelay = 100 * time.Millisecond

// Ingester runs one decoded payload through the pipeline.
type Ingester interface {
	Ingest(text string) (*relay.IngestResult, error)
}

// Watcher ingests payload files dropped into a spool directory, for
// decoders that cannot speak HTTP. Each file holds one decoded payload.
// Consumed files are moved to the archive directory, or removed when no
// archive is configured.
type Watcher struct {
	dir        string
	archiveDir string
	ingester   Ingester
	watcher    *fsnotify.Watcher
	logger     *logger.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewWatcher creates a spool watcher.
func NewWatcher(cfg config.SpoolConfig, ingester Ingester, log *logger.Logger) *Watcher {
	return &Watcher{
		dir:        cfg.Dir,
		archiveDir: cfg.ArchiveDir,
		ingester:   ingester,
		logger:     log.Named("spool"),
	}
}

// Start processes files already sitting in the spool directory, then keeps
// watching for new ones until Stop is called or the context ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool dir: %w", err)
	}
	if w.archiveDir != "" {
		if err := os.MkdirAll(w.archiveDir, 0o755); err != nil {
			return fmt.Errorf("failed to create spool archive dir: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch spool dir: %w", err)
	}
	w.watcher = watcher

	ctx, w.cancel = context.WithCancel(ctx)

	// Pick up anything dropped while the service was down.
	w.Sweep()

	w.wg.Add(1)
	go w.watch(ctx)

	w.logger.Info("Spool intake started", logger.String("dir", w.dir))
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}

// Sweep processes every payload file currently in the spool directory.
func (w *Watcher) Sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("Failed to read spool dir", logger.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.processFile(filepath.Join(w.dir, entry.Name()))
	}
}

// watch reacts to files appearing in the spool directory.
func (w *Watcher) watch(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				time.Sleep(settleDelay)
				w.processFile(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Spool watch error", logger.Error(err))
		}
	}
}

// processFile ingests one payload file and archives it. A file that has
// already been consumed by an earlier event is skipped silently.
func (w *Watcher) processFile(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("Failed to read spool file",
			logger.String("file", base),
			logger.Error(err))
		return
	}

	result, err := w.ingester.Ingest(string(data))
	switch {
	case err != nil:
		w.logger.Warn("Spool file rejected",
			logger.String("file", base),
			logger.Error(err))
	case result.Duplicate != nil:
		w.logger.Warn("Spool file was a duplicate scan",
			logger.String("file", base),
			logger.String("warning", result.Warning))
	default:
		w.logger.Info("Spool file ingested",
			logger.String("file", base),
			logger.Int64("scan_id", result.Record.ID))
	}

	// The file is consumed either way; leaving it would re-trigger on the
	// next sweep.
	w.archive(path, base)
}

// archive moves a consumed file out of the spool directory.
func (w *Watcher) archive(path, base string) {
	if w.archiveDir == "" {
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Failed to remove spool file",
				logger.String("file", base),
				logger.Error(err))
		}
		return
	}

	target := filepath.Join(w.archiveDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), base))
	if err := os.Rename(path, target); err != nil {
		w.logger.Warn("Failed to archive spool file",
			logger.String("file", base),
			logger.Error(err))
	}
}
