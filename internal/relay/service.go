package relay

import (
	"fmt"
	"time"

	"github.com/scoutware/scanrelay/internal/dedup"
	"github.com/scoutware/scanrelay/internal/parser"
	"github.com/scoutware/scanrelay/internal/payload"
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/schema"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/internal/uplink"
	"github.com/scoutware/scanrelay/internal/websocket"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// Service drives the ingestion pipeline: normalize, parse, duplicate gate,
// store, dispatch. It also owns the user-triggered operations on the scan
// history (retry, resend, comment edit, clear).
type Service struct {
	normalizer *payload.Normalizer
	parser     *parser.Parser
	dedup      *dedup.Index
	store      *scan.Store
	dispatcher *uplink.Dispatcher
	settings   *settings.Service
	ws         *websocket.Server
	logger     *logger.Logger
}

// NewService creates the pipeline service. ws may be nil when no display
// feed is attached.
func NewService(
	normalizer *payload.Normalizer,
	p *parser.Parser,
	index *dedup.Index,
	store *scan.Store,
	dispatcher *uplink.Dispatcher,
	settingsSvc *settings.Service,
	ws *websocket.Server,
	log *logger.Logger,
) *Service {
	return &Service{
		normalizer: normalizer,
		parser:     p,
		dedup:      index,
		store:      store,
		dispatcher: dispatcher,
		settings:   settingsSvc,
		ws:         ws,
		logger:     log.Named("relay"),
	}
}

// Ingest runs one decoded payload through the pipeline. A duplicate payload
// creates no record and triggers no delivery; the result carries the
// conflicting record and a warning instead. Ingestion never blocks on the
// network: dispatch runs asynchronously.
func (s *Service) Ingest(text string) (*IngestResult, error) {
	normalized := s.normalizer.Normalize(text, s.settings.ForceCompact())
	if normalized == "" {
		return nil, ErrEmptyPayload
	}

	parsed := s.parser.Parse(normalized)

	records := s.store.List()
	history := make([]dedup.Record, len(records))
	for i, rec := range records {
		history[i] = rec
	}
	if dup := s.dedup.FindDuplicate(parsed, normalized, history); dup != nil {
		existing := dup.(*scan.ScanRecord)
		warning := duplicateWarning(existing)
		s.logger.Warn("Duplicate scan skipped",
			logger.Int64("existing_id", existing.ID),
			logger.String("warning", warning))
		return &IngestResult{Duplicate: existing, Warning: warning}, nil
	}

	// An empty mapping means parsing never matched the schema; the record
	// then carries no parsed fields at all.
	var fields map[string]string
	if len(parsed) > 0 {
		fields = parsed
	}

	rec := &scan.ScanRecord{
		Timestamp:   time.Now().Format(scan.DisplayTimeFormat),
		Raw:         normalized,
		Parsed:      fields,
		DisplayData: scan.DisplayPreview(parsed, normalized),
		Status:      scan.StatusPending,
	}
	stored := s.store.Append(rec)

	s.logger.Info("Scan ingested",
		logger.Int64("scan_id", stored.ID),
		logger.String("preview", stored.DisplayData))
	s.broadcast("scan_added", map[string]interface{}{"scan": stored})

	s.dispatcher.Dispatch(stored)

	return &IngestResult{Record: stored}, nil
}

// RetryAll re-dispatches every record currently pending or failed. Records
// already delivered or in flight are untouched. Returns how many attempts
// were issued.
func (s *Service) RetryAll() int {
	count := 0
	for _, rec := range s.store.List() {
		if rec.Status.Retryable() {
			s.dispatcher.Dispatch(rec)
			count++
		}
	}
	s.logger.Info("Retry issued", logger.Int("records", count))
	return count
}

// Resend issues a fresh delivery attempt for one record regardless of its
// status, so an already delivered record can be re-sent after a comment
// edit.
func (s *Service) Resend(id int64) (*scan.ScanRecord, error) {
	rec, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	s.dispatcher.Dispatch(rec)
	return rec, nil
}

// EditComment replaces the comment field of a parsed record. The stored raw
// text is untouched; the next delivery reconstructs its transmission from
// the parsed values, so the edit reaches the endpoint.
func (s *Service) EditComment(id int64, comment string) (*scan.ScanRecord, error) {
	rec, err := s.store.UpdateComment(id, comment)
	if err != nil {
		return nil, err
	}
	s.broadcast("scan_updated", map[string]interface{}{"scan": rec})
	return rec, nil
}

// ClearAll destroys the full scan history. Confirmation is the caller's
// responsibility; the pipeline itself never asks.
func (s *Service) ClearAll() int {
	removed := s.store.Clear()
	s.logger.Info("Scan history cleared", logger.Int("removed", removed))
	s.broadcast("scans_cleared", map[string]interface{}{"count": removed})
	return removed
}

// List returns all records, newest first.
func (s *Service) List() []*scan.ScanRecord {
	return s.store.List()
}

// Get returns one record by id.
func (s *Service) Get(id int64) (*scan.ScanRecord, error) {
	return s.store.Get(id)
}

func (s *Service) broadcast(msgType string, data map[string]interface{}) {
	if s.ws == nil {
		return
	}
	s.ws.Broadcast(&websocket.Message{Type: msgType, Data: data})
}

// duplicateWarning names the conflicting match and team when the stored
// record parsed far enough to identify them.
func duplicateWarning(existing *scan.ScanRecord) string {
	match := existing.Parsed[schema.FieldMatchNumber]
	team := existing.Parsed[schema.FieldTeamNumber]
	if match != "" && team != "" {
		return fmt.Sprintf("Duplicate scan for match %s, team %s; keeping record %d", match, team, existing.ID)
	}
	return fmt.Sprintf("Duplicate scan; keeping record %d", existing.ID)
}
