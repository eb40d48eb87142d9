package uplink

import (
	"context"

	"github.com/scoutware/scanrelay/internal/scan"
)

// Payload is the outbound form body for one delivery attempt. JSONCols is
// the authoritative machine-readable copy (base64 of a JSON array of the
// ordered schema values); Raw is the human-readable fallback.
type Payload struct {
	Timestamp string
	Raw       string
	JSONCols  string
}

// Deliverer posts a transport payload to the aggregation endpoint. Delivery
// is opaque: implementations report only whether the exchange itself
// failed, never what the server thought of the data.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, payload Payload) error
}

// StatusSink applies delivery status transitions onto stored records by
// record id.
type StatusSink interface {
	UpdateStatus(id int64, status scan.Status, errorMsg string) (*scan.ScanRecord, error)
}

// Endpoints yields the aggregation endpoint current at send time.
type Endpoints interface {
	EndpointURL() string
}

// Tokenizer re-segments raw payload text (whitespace split plus token
// repair) when a record has no parsed mapping.
type Tokenizer interface {
	Tokenize(text string) []string
}
