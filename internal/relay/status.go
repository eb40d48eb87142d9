package relay

import (
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/websocket"
	"github.com/scoutware/scanrelay/pkg/logger"
)

// StatusTracker is the single mutation path for delivery status: it applies
// transitions to the store by record id and announces each one to connected
// displays. The dispatcher reports through it.
type StatusTracker struct {
	store  *scan.Store
	ws     *websocket.Server
	logger *logger.Logger
}

// NewStatusTracker creates a status tracker. ws may be nil when no display
// feed is attached.
func NewStatusTracker(store *scan.Store, ws *websocket.Server, log *logger.Logger) *StatusTracker {
	return &StatusTracker{
		store:  store,
		ws:     ws,
		logger: log.Named("status"),
	}
}

// UpdateStatus applies one transition and broadcasts the updated record.
func (t *StatusTracker) UpdateStatus(id int64, status scan.Status, errorMsg string) (*scan.ScanRecord, error) {
	rec, err := t.store.UpdateStatus(id, status, errorMsg)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("Applied status transition",
		logger.Int64("scan_id", id),
		logger.String("status", string(status)))

	if t.ws != nil {
		t.ws.Broadcast(&websocket.Message{
			Type: "scan_status",
			Data: map[string]interface{}{"scan": rec},
		})
	}

	return rec, nil
}
