package uplink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutware/scanrelay/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func TestDeliverPostsFormPayload(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotForm        map[string]string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotForm = map[string]string{
			"timestamp": r.PostFormValue("timestamp"),
			"raw":       r.PostFormValue("raw"),
			"jsonCols":  r.PostFormValue("jsonCols"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, newTestLogger(t))
	payload := Payload{
		Timestamp: "2026-03-14 09:26:53",
		Raw:       "Alice FRC123 Qual 5 254",
		JSONCols:  "W10=",
	}

	require.NoError(t, client.Deliver(context.Background(), server.URL, payload))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, payload.Timestamp, gotForm["timestamp"])
	assert.Equal(t, payload.Raw, gotForm["raw"])
	assert.Equal(t, payload.JSONCols, gotForm["jsonCols"])
}

func TestDeliverIgnoresStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not welcome here", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, newTestLogger(t))

	// The endpoint gives no usable acknowledgment; a completed exchange is
	// success regardless of the response.
	assert.NoError(t, client.Deliver(context.Background(), server.URL, Payload{Raw: "x"}))
}

func TestDeliverReportsTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	client := NewClient(time.Second, newTestLogger(t))

	assert.Error(t, client.Deliver(context.Background(), endpoint, Payload{Raw: "x"}))
}

func TestDeliverRejectsUnbuildableRequest(t *testing.T) {
	client := NewClient(time.Second, newTestLogger(t))

	assert.Error(t, client.Deliver(context.Background(), "://not-a-url", Payload{}))
}
