package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutware/scanrelay/internal/dedup"
	"github.com/scoutware/scanrelay/internal/parser"
	"github.com/scoutware/scanrelay/internal/payload"
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/schema"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/internal/uplink"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// fakeDeliverer records successful payloads and fails while err is set.
type fakeDeliverer struct {
	mu       sync.Mutex
	err      error
	payloads []uplink.Payload
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ string, p uplink.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeDeliverer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeDeliverer) last() uplink.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

type serviceHarness struct {
	svc        *Service
	store      *scan.Store
	dispatcher *uplink.Dispatcher
	deliverer  *fakeDeliverer
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	sch := schema.Default()
	p := parser.New(sch, nil)
	store := scan.NewStore(nil, nil, log)
	tracker := NewStatusTracker(store, nil, log)
	deliverer := &fakeDeliverer{}
	settingsSvc := settings.NewService(settings.Settings{
		EndpointURL: "http://aggregator.example/submit",
	}, nil, log)
	dispatcher := uplink.NewDispatcher(sch, deliverer, tracker, settingsSvc, p, log)
	normalizer := payload.NewNormalizer(payload.Codec{}, log)

	svc := NewService(normalizer, p, dedup.NewIndex(), store, dispatcher, settingsSvc, nil, log)
	return &serviceHarness{svc: svc, store: store, dispatcher: dispatcher, deliverer: deliverer}
}

const fullScanLine = "Alice FRC123 Qual 5 254 1 4 7 2 1 3 strong climb"

func TestIngestStoresAndDelivers(t *testing.T) {
	h := newServiceHarness(t)

	result, err := h.svc.Ingest(fullScanLine + "\r\n")
	require.NoError(t, err)
	require.NotNil(t, result.Record)
	assert.Nil(t, result.Duplicate)

	assert.Equal(t, int64(1), result.Record.ID)
	assert.Equal(t, fullScanLine, result.Record.Raw)
	assert.Equal(t, "254", result.Record.Parsed[schema.FieldTeamNumber])
	assert.Equal(t, "Team 254, match 5 (Alice)", result.Record.DisplayData)

	h.dispatcher.Wait()

	stored, err := h.store.Get(result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusSent, stored.Status)
	assert.Empty(t, stored.ErrorMsg)

	require.Equal(t, 1, h.deliverer.count())
	assert.Equal(t, fullScanLine, h.deliverer.last().Raw,
		"reconstructed raw matches the single-spaced input")
}

func TestIngestRejectsEmptyPayload(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.Ingest("")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = h.svc.Ingest("  \r\n ")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	assert.Equal(t, 0, h.store.Len())
}

func TestIngestExpandsCompactPayload(t *testing.T) {
	h := newServiceHarness(t)

	encoded, err := payload.Codec{}.Encode(fullScanLine)
	require.NoError(t, err)

	result, err := h.svc.Ingest(encoded)
	require.NoError(t, err)
	require.NotNil(t, result.Record)

	assert.Equal(t, fullScanLine, result.Record.Raw)
	assert.Equal(t, "254", result.Record.Parsed[schema.FieldTeamNumber])
}

func TestIngestDuplicateCreatesNoRecord(t *testing.T) {
	h := newServiceHarness(t)

	first, err := h.svc.Ingest(fullScanLine)
	require.NoError(t, err)
	h.dispatcher.Wait()

	// A re-scan arrives with different spacing but the same identity.
	second, err := h.svc.Ingest("Alice  FRC123  Qual  5  254  1 4 7 2 1 3 strong climb")
	require.NoError(t, err)

	assert.Nil(t, second.Record)
	require.NotNil(t, second.Duplicate)
	assert.Equal(t, first.Record.ID, second.Duplicate.ID)
	assert.Equal(t, "Duplicate scan for match 5, team 254; keeping record 1", second.Warning)

	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1, h.deliverer.count(), "duplicates trigger no delivery")
}

func TestIngestDuplicateWithoutIdentityFields(t *testing.T) {
	h := newServiceHarness(t)

	// A single token parses to just a scouter, so the duplicate key falls
	// back to the raw text.
	_, err := h.svc.Ingest("onlyscouter")
	require.NoError(t, err)

	result, err := h.svc.Ingest("onlyscouter")
	require.NoError(t, err)
	require.NotNil(t, result.Duplicate)
	assert.Equal(t, "Duplicate scan; keeping record 1", result.Warning)
}

func TestFailedDeliveryThenRetrySucceeds(t *testing.T) {
	h := newServiceHarness(t)
	h.deliverer.setErr(errors.New("dial tcp: connection refused"))

	result, err := h.svc.Ingest(fullScanLine)
	require.NoError(t, err)
	h.dispatcher.Wait()

	stored, err := h.store.Get(result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusError, stored.Status)
	assert.Equal(t, "dial tcp: connection refused", stored.ErrorMsg)

	// The endpoint comes back; a retry delivers and clears the failure.
	h.deliverer.setErr(nil)
	assert.Equal(t, 1, h.svc.RetryAll())
	h.dispatcher.Wait()

	stored, err = h.store.Get(result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusSent, stored.Status)
	assert.Empty(t, stored.ErrorMsg)
}

func TestRetryAllSelectsOnlyPendingAndFailed(t *testing.T) {
	h := newServiceHarness(t)

	var ids []int64
	for _, team := range []string{"254", "1114", "118"} {
		result, err := h.svc.Ingest("Alice FRC123 Qual 5 " + team + " 1 4 7 2 1 3 ok")
		require.NoError(t, err)
		ids = append(ids, result.Record.ID)
	}
	h.dispatcher.Wait()
	require.Equal(t, 3, h.deliverer.count())

	_, err := h.store.UpdateStatus(ids[0], scan.StatusError, "lost")
	require.NoError(t, err)
	_, err = h.store.UpdateStatus(ids[1], scan.StatusPending, "")
	require.NoError(t, err)

	assert.Equal(t, 2, h.svc.RetryAll())
	h.dispatcher.Wait()

	// The already delivered record was not re-sent.
	assert.Equal(t, 5, h.deliverer.count())
	for _, id := range ids {
		stored, err := h.store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, scan.StatusSent, stored.Status)
	}
}

func TestResendDeliveredRecord(t *testing.T) {
	h := newServiceHarness(t)

	result, err := h.svc.Ingest(fullScanLine)
	require.NoError(t, err)
	h.dispatcher.Wait()

	_, err = h.svc.Resend(result.Record.ID)
	require.NoError(t, err)
	h.dispatcher.Wait()

	assert.Equal(t, 2, h.deliverer.count())

	stored, err := h.store.Get(result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, scan.StatusSent, stored.Status)

	_, err = h.svc.Resend(999)
	assert.ErrorIs(t, err, scan.ErrNotFound)
}

func TestEditCommentReachesNextDelivery(t *testing.T) {
	h := newServiceHarness(t)

	result, err := h.svc.Ingest(fullScanLine)
	require.NoError(t, err)
	h.dispatcher.Wait()

	updated, err := h.svc.EditComment(result.Record.ID, "robot tipped, no climb")
	require.NoError(t, err)
	assert.Equal(t, "robot tipped, no climb", updated.Parsed[schema.FieldComment])
	assert.Equal(t, fullScanLine, updated.Raw, "the stored raw text never changes")

	_, err = h.svc.Resend(result.Record.ID)
	require.NoError(t, err)
	h.dispatcher.Wait()

	// The resent transmission is rebuilt from parsed values, so the edit
	// is what goes out.
	sent := h.deliverer.last()
	decoded, err := base64.StdEncoding.DecodeString(sent.JSONCols)
	require.NoError(t, err)
	var cols []string
	require.NoError(t, json.Unmarshal(decoded, &cols))
	assert.Equal(t, "robot tipped, no climb", cols[len(cols)-1])
	assert.Contains(t, sent.Raw, "robot tipped, no climb")
}

func TestEditCommentErrors(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.EditComment(999, "x")
	assert.ErrorIs(t, err, scan.ErrNotFound)

	// Records restored from old snapshots may have no parsed fields.
	blob := h.store.Append(&scan.ScanRecord{Raw: "opaque blob", Status: scan.StatusPending})
	_, err = h.svc.EditComment(blob.ID, "x")
	assert.ErrorIs(t, err, scan.ErrNoParsed)
}

func TestClearAllKeepsIDMonotone(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.Ingest(fullScanLine)
	require.NoError(t, err)
	_, err = h.svc.Ingest("Bob FRC123 Qual 6 1114 0 2 5 1 0 2 quick cycle")
	require.NoError(t, err)
	h.dispatcher.Wait()

	assert.Equal(t, 2, h.svc.ClearAll())
	assert.Empty(t, h.svc.List())

	// Ids are never reused, even after a wipe.
	result, err := h.svc.Ingest("Cara FRC123 Qual 7 118 1 3 6 0 1 1 solid auto")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Record.ID)
	h.dispatcher.Wait()
}
