package scan

import (
	"errors"
	"sync"

	"github.com/scoutware/scanrelay/internal/schema"
	"github.com/scoutware/scanrelay/pkg/logger"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("scan record not found")
	// ErrNoParsed is returned when a comment edit targets a record that
	// never parsed into fields.
	ErrNoParsed = errors.New("scan record has no parsed fields")
)

// Snapshotter persists the full record list. The store calls it
// synchronously on every mutation; the write is a whole-history snapshot,
// so replaying it is idempotent and order-insensitive.
type Snapshotter interface {
	SaveScans(records []*ScanRecord) error
}

// Store owns the scan history: newest record first, ids monotonically
// increasing and never reused, mutations restricted to a handful of narrow
// entry points. All access is serialized by the store's mutex; callers
// always receive copies.
type Store struct {
	mu      sync.Mutex
	records []*ScanRecord
	nextID  int64
	snap    Snapshotter
	logger  *logger.Logger
}

// NewStore creates a store seeded with a previously persisted history.
// Records are kept in the given order (newest first); the next id continues
// above the highest seen, so ids stay unique across restarts.
func NewStore(initial []*ScanRecord, snap Snapshotter, log *logger.Logger) *Store {
	s := &Store{
		records: make([]*ScanRecord, 0, len(initial)),
		nextID:  1,
		snap:    snap,
		logger:  log.Named("scan-store"),
	}
	for _, rec := range initial {
		s.records = append(s.records, rec.Clone())
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
	return s
}

// Append assigns the next id to the record, stores it as the most recent
// entry, and snapshots the history. The stored copy is returned.
func (s *Store) Append(rec *ScanRecord) *ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	stored.ID = s.nextID
	s.nextID++

	// Newest first.
	s.records = append([]*ScanRecord{stored}, s.records...)
	s.persistLocked()

	return stored.Clone()
}

// UpdateStatus applies a delivery transition to the record with the given
// id. ErrorMsg is kept only on error transitions; a successful send clears
// any previous failure text.
func (s *Store) UpdateStatus(id int64, status Status, errorMsg string) (*ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil, ErrNotFound
	}

	rec.Status = status
	if status == StatusError {
		if errorMsg == "" {
			errorMsg = "delivery failed"
		}
		rec.ErrorMsg = errorMsg
	} else {
		rec.ErrorMsg = ""
	}
	s.persistLocked()

	return rec.Clone(), nil
}

// UpdateComment replaces the comment field of a parsed record. Every other
// parsed field is immutable once set.
func (s *Store) UpdateComment(id int64, comment string) (*ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.Parsed == nil {
		return nil, ErrNoParsed
	}

	rec.Parsed[schema.FieldComment] = comment
	s.persistLocked()

	return rec.Clone(), nil
}

// Clear removes every record and snapshots the now-empty history. Ids are
// not reset; a record id is never reused for the lifetime of the store.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.records)
	s.records = s.records[:0]
	s.persistLocked()

	return removed
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id int64) (*ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findLocked(id)
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns copies of all records, newest first.
func (s *Store) List() []*ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ScanRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// findLocked returns the live record with the given id. Callers hold the
// mutex.
func (s *Store) findLocked(id int64) *ScanRecord {
	for _, rec := range s.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// persistLocked snapshots the history through the backend. Persistence
// failures are logged and absorbed; the in-memory history stays the source
// of truth and the next mutation writes a complete snapshot again.
func (s *Store) persistLocked() {
	if s.snap == nil {
		return
	}
	if err := s.snap.SaveScans(s.records); err != nil {
		s.logger.Warn("Failed to persist scan history snapshot",
			logger.Int("records", len(s.records)),
			logger.Error(err))
	}
}
