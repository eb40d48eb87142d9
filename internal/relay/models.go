package relay

import (
	"errors"

	"github.com/scoutware/scanrelay/internal/scan"
)

// ErrEmptyPayload is returned when a decoded payload normalizes to nothing.
var ErrEmptyPayload = errors.New("empty payload")

// IngestResult reports what happened to one decoded payload: either a new
// record was stored (Record set) or the payload was gated as a duplicate of
// an existing one (Duplicate and Warning set). Exactly one of the two
// outcomes applies.
type IngestResult struct {
	Record    *scan.ScanRecord `json:"record,omitempty"`
	Duplicate *scan.ScanRecord `json:"duplicate,omitempty"`
	Warning   string           `json:"warning,omitempty"`
}
