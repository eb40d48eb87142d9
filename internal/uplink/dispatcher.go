package uplink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/schema"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// Dispatcher turns stored records into transport payloads and issues
// delivery attempts. Attempts for different records are independent and
// unordered; an attempt, once started, runs to completion and reports its
// outcome through the status sink, last writer wins.
type Dispatcher struct {
	schema    *schema.Schema
	deliverer Deliverer
	status    StatusSink
	endpoints Endpoints
	tokenizer Tokenizer
	logger    *logger.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	s *schema.Schema,
	deliverer Deliverer,
	status StatusSink,
	endpoints Endpoints,
	tokenizer Tokenizer,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		schema:    s,
		deliverer: deliverer,
		status:    status,
		endpoints: endpoints,
		tokenizer: tokenizer,
		logger:    log.Named("dispatcher"),
	}
}

// Dispatch marks the record as sending and issues one asynchronous delivery
// attempt. It never blocks on the network; ingestion keeps accepting scans
// while attempts are outbound.
func (d *Dispatcher) Dispatch(rec *scan.ScanRecord) {
	if _, err := d.status.UpdateStatus(rec.ID, scan.StatusSending, ""); err != nil {
		d.logger.Warn("Skipping dispatch for unknown record",
			logger.Int64("scan_id", rec.ID),
			logger.Error(err))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.attempt(rec)
	}()
}

// Wait blocks until every in-flight delivery attempt has reported.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// attempt performs a single delivery and applies the terminal transition.
func (d *Dispatcher) attempt(rec *scan.ScanRecord) {
	log := d.logger.WithScanID(rec.ID)

	payload, err := d.BuildPayload(rec)
	if err != nil {
		log.Warn("Failed to build transport payload", logger.Error(err))
		d.setStatus(rec.ID, scan.StatusError, fmt.Sprintf("failed to encode payload: %v", err))
		return
	}

	endpoint := d.endpoints.EndpointURL()
	if endpoint == "" {
		d.setStatus(rec.ID, scan.StatusError, "no aggregation endpoint configured")
		return
	}

	if err := d.deliverer.Deliver(context.Background(), endpoint, payload); err != nil {
		log.Warn("Delivery attempt failed", logger.Error(err))
		d.setStatus(rec.ID, scan.StatusError, err.Error())
		return
	}

	log.Info("Scan delivered", logger.String("endpoint", endpoint))
	d.setStatus(rec.ID, scan.StatusSent, "")
}

// setStatus applies a transition, tolerating records cleared mid-flight.
func (d *Dispatcher) setStatus(id int64, status scan.Status, errorMsg string) {
	if _, err := d.status.UpdateStatus(id, status, errorMsg); err != nil {
		d.logger.Debug("Dropping status for removed record",
			logger.Int64("scan_id", id),
			logger.String("status", string(status)))
	}
}

// BuildPayload converts a record into its transport payload: the ordered
// schema values as base64 JSON, a space-joined reconstruction of them as
// the human-readable raw, and a send-time timestamp.
func (d *Dispatcher) BuildPayload(rec *scan.ScanRecord) (Payload, error) {
	values := d.Values(rec)

	cols, err := json.Marshal(values)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to marshal column values: %w", err)
	}

	return Payload{
		Timestamp: time.Now().Format(scan.DisplayTimeFormat),
		Raw:       strings.Join(values, " "),
		JSONCols:  base64.StdEncoding.EncodeToString(cols),
	}, nil
}

// Values builds the ordered schema values for a record. A parsed record is
// read field by field, absent fields becoming empty strings, so a comment
// edit lands in what is transmitted even though the stored raw text is
// immutable. An unparsed record falls back to re-tokenizing its raw text
// with the same repair rules the parser applies, overflow folding into the
// comment position.
func (d *Dispatcher) Values(rec *scan.ScanRecord) []string {
	arity := d.schema.Arity()
	values := make([]string, arity)

	if rec.Parsed != nil {
		for i := 0; i < arity; i++ {
			values[i] = rec.Parsed[d.schema.FieldAt(i)]
		}
		return values
	}

	tokens := d.tokenizer.Tokenize(rec.Raw)
	commentIdx := d.schema.CommentIndex()
	for i := 0; i < arity && i < len(tokens); i++ {
		if i == commentIdx {
			values[i] = strings.Join(tokens[i:], " ")
			break
		}
		values[i] = tokens[i]
	}
	return values
}
