package spool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutware/scanrelay/internal/config"
	"github.com/scoutware/scanrelay/internal/relay"
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/pkg/logger"
)

type fakeIngester struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeIngester) Ingest(text string) (*relay.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return &relay.IngestResult{Record: &scan.ScanRecord{ID: int64(len(f.texts))}}, nil
}

func (f *fakeIngester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeIngester) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newTestWatcher(t *testing.T, archive bool) (*Watcher, *fakeIngester, config.SpoolConfig) {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	cfg := config.SpoolConfig{Enabled: true, Dir: t.TempDir()}
	if archive {
		cfg.ArchiveDir = t.TempDir()
	}
	ingester := &fakeIngester{}
	return NewWatcher(cfg, ingester, log), ingester, cfg
}

func dropFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func spoolNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestSweepIngestsAndArchives(t *testing.T) {
	w, ingester, cfg := newTestWatcher(t, true)

	dropFile(t, cfg.Dir, "scan1.txt", "Alice FRC123 Qual 5 254 1 4 7 2 1 3 ok")
	dropFile(t, cfg.Dir, "scan2.txt", "Bob FRC123 Qual 6 1114 0 2 5 1 0 2 fast")

	w.Sweep()

	assert.Equal(t, []string{
		"Alice FRC123 Qual 5 254 1 4 7 2 1 3 ok",
		"Bob FRC123 Qual 6 1114 0 2 5 1 0 2 fast",
	}, ingester.seen())

	assert.Empty(t, spoolNames(t, cfg.Dir), "consumed files leave the spool")

	archived := spoolNames(t, cfg.ArchiveDir)
	require.Len(t, archived, 2)
	assert.True(t, strings.HasSuffix(archived[0], "_scan1.txt") || strings.HasSuffix(archived[1], "_scan1.txt"))
}

func TestSweepSkipsHiddenAndTempFiles(t *testing.T) {
	w, ingester, cfg := newTestWatcher(t, true)

	dropFile(t, cfg.Dir, ".partial", "x")
	dropFile(t, cfg.Dir, "writing.tmp", "y")
	dropFile(t, cfg.Dir, "ready.txt", "Cara FRC123 Qual 7 118 1 3 6 0 1 1 neat")

	w.Sweep()

	assert.Equal(t, 1, ingester.count())
	assert.ElementsMatch(t, []string{".partial", "writing.tmp"}, spoolNames(t, cfg.Dir))
}

func TestSweepRemovesFilesWithoutArchiveDir(t *testing.T) {
	w, ingester, cfg := newTestWatcher(t, false)

	dropFile(t, cfg.Dir, "scan.txt", "payload")
	w.Sweep()

	assert.Equal(t, 1, ingester.count())
	assert.Empty(t, spoolNames(t, cfg.Dir))
}

func TestSweepConsumesRejectedFiles(t *testing.T) {
	w, ingester, cfg := newTestWatcher(t, true)
	ingester.err = errors.New("empty payload")

	dropFile(t, cfg.Dir, "bad.txt", "")
	w.Sweep()

	// Rejected files are archived too; leaving them would loop forever.
	assert.Equal(t, 0, ingester.count())
	assert.Empty(t, spoolNames(t, cfg.Dir))
	assert.Len(t, spoolNames(t, cfg.ArchiveDir), 1)
}

func TestStartProcessesBacklogThenWatches(t *testing.T) {
	w, ingester, cfg := newTestWatcher(t, true)

	dropFile(t, cfg.Dir, "backlog.txt", "from before startup")

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// The backlog is swept synchronously during startup.
	assert.Equal(t, 1, ingester.count())

	// A file dropped while running is picked up by the watch loop.
	dropFile(t, cfg.Dir, "live.txt", "dropped at runtime")
	assert.Eventually(t, func() bool {
		return ingester.count() == 2
	}, 3*time.Second, 20*time.Millisecond)
}
