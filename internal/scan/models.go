package scan

import (
	"fmt"

	"github.com/scoutware/scanrelay/internal/schema"
)

// DisplayTimeFormat renders capture and send times for humans.
const DisplayTimeFormat = "2006-01-02 15:04:05"

// Status is the delivery state of a scan record.
type Status string

const (
	// StatusPending means the record has not been dispatched yet.
	StatusPending Status = "pending"
	// StatusSending means a delivery attempt is in flight.
	StatusSending Status = "sending"
	// StatusSent means the last delivery attempt completed.
	StatusSent Status = "sent"
	// StatusError means the last delivery attempt failed; ErrorMsg says why.
	StatusError Status = "error"
)

// Retryable reports whether a bulk retry should pick up a record in this
// state. In-flight and delivered records are left alone.
func (s Status) Retryable() bool {
	return s == StatusPending || s == StatusError
}

// ScanRecord is one ingested scouting observation and its delivery state.
type ScanRecord struct {
	ID          int64             `json:"id"`
	Timestamp   string            `json:"timestamp"`
	Raw         string            `json:"raw"`
	Parsed      map[string]string `json:"parsed,omitempty"`
	DisplayData string            `json:"display_data"`
	Status      Status            `json:"status"`
	ErrorMsg    string            `json:"error_msg,omitempty"`
}

// ParsedFields returns the parsed mapping for duplicate keying.
func (r *ScanRecord) ParsedFields() map[string]string {
	return r.Parsed
}

// RawText returns the normalized payload text for duplicate keying.
func (r *ScanRecord) RawText() string {
	return r.Raw
}

// Clone returns a copy whose parsed map is independent of the original.
func (r *ScanRecord) Clone() *ScanRecord {
	out := *r
	if r.Parsed != nil {
		out.Parsed = make(map[string]string, len(r.Parsed))
		for k, v := range r.Parsed {
			out.Parsed[k] = v
		}
	}
	return &out
}

// DisplayPreview builds the one-line summary shown in scan lists. Parsed
// records summarize to team and match; anything else falls back to a
// truncated raw payload.
func DisplayPreview(parsed map[string]string, raw string) string {
	team := parsed[schema.FieldTeamNumber]
	match := parsed[schema.FieldMatchNumber]
	if team != "" && match != "" {
		preview := fmt.Sprintf("Team %s, match %s", team, match)
		if scouter := parsed[schema.FieldScouter]; scouter != "" {
			preview += fmt.Sprintf(" (%s)", scouter)
		}
		return preview
	}
	return truncate(raw, 60)
}

// truncate shortens text to max runes, marking the cut.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}
