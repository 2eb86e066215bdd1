package remote

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *HTTPClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(srv.URL, WithAPIKey("test-key"), WithSite("home"))
	return srv, c
}

func TestFetch(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sites/home/downtime-rules/r1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "r1", "type": "downtime", "name": "emma-bedtime",
			"action": "BLOCK", "enabled": true, "index": 3,
			"schedule": {"mode": "DAILY", "time_range_start": "21:00", "time_range_end": "07:00"},
			"target_devices": [{"client_mac": "aa:bb"}]
		}`))
	})

	snap, err := c.Fetch("r1")
	require.NoError(t, err)
	assert.Equal(t, "emma-bedtime", snap.Name)
	assert.Equal(t, "BLOCK", snap.Action)
	assert.Equal(t, "21:00", snap.Schedule.TimeRangeStart)
	assert.Equal(t, 3, snap.PriorityIndex)
}

func TestReplace_RoundTripsUnownedFields(t *testing.T) {
	var received map[string]json.RawMessage
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"id": "r1", "type": "downtime", "name": "n", "action": "BLOCK", "enabled": false, "index": 1, "schedule": {"mode": "ALWAYS"}}`))
	})

	// Unmarshal a snapshot carrying fields this client does not own.
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "r1", "type": "downtime", "name": "n", "action": "BLOCK",
		"enabled": true, "index": 1, "schedule": {"mode": "ALWAYS"},
		"target_devices": [{"client_mac": "aa:bb"}], "protocol": "all"
	}`), &snap))

	snap.Enabled = false
	_, err := c.Replace("r1", &snap)
	require.NoError(t, err)

	// The unowned fields must survive the round trip untouched.
	assert.Contains(t, received, "target_devices")
	assert.Contains(t, received, "protocol")
	assert.JSONEq(t, `false`, string(received["enabled"]))
}

func TestReplace_RejectsMissingRequiredFieldsLocally(t *testing.T) {
	called := false
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.Replace("r1", &Snapshot{ID: "r1", Type: "downtime", Name: "n"}) // no action
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.False(t, called, "invalid payload must not reach the wire")
}

func TestBatchPartialUpdate(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/sites/home/downtime-rules/batch", r.URL.Path)

		var payload struct {
			Updates []map[string]any `json:"updates"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Updates, 1)
		assert.Equal(t, "r1", payload.Updates[0]["id"])
		assert.Equal(t, false, payload.Updates[0]["enabled"])

		w.Write([]byte(`{"rules": [{"id": "r1", "type": "downtime", "name": "n", "action": "BLOCK", "enabled": false, "index": 1, "schedule": {"mode": "ALWAYS"}}]}`))
	})

	snap, err := c.BatchPartialUpdate("r1", FieldDelta{"enabled": false})
	require.NoError(t, err)
	assert.False(t, snap.Enabled)
}

func TestList_PrefixFilter(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rules": [
			{"id": "r1", "name": "emma-bedtime", "action": "BLOCK"},
			{"id": "r2", "name": "noah-games", "action": "BLOCK"},
			{"id": "r3", "name": "emma-social", "action": "BLOCK"}
		]}`))
	})

	rules, err := c.List(ListFilter{NamePrefixes: []string{"emma-"}})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "r3", rules[1].ID)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnprocessableEntity, ErrBadRequest},
		{http.StatusInternalServerError, ErrUnreachable},
		{http.StatusBadGateway, ErrUnreachable},
	}
	for _, tt := range tests {
		_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		})
		_, err := c.Fetch("r1")
		require.Error(t, err)
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestDecodeErrorIsUnreachable(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})
	_, err := c.Fetch("r1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestTransportErrorIsUnreachable(t *testing.T) {
	srv, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()
	_, err := c.Fetch("r1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, errors.Is(err, ErrNotFound))
}
