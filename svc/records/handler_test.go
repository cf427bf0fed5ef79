package records_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/replicast/svc/records"
)

func newServer(t *testing.T, svc *records.Service) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/records", records.NewHandler(svc, nil).Handle())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func decodeRecord(t *testing.T, body string) records.Record {
	t.Helper()
	var rec records.Record
	require.NoError(t, json.Unmarshal([]byte(body), &rec))
	return rec
}

func TestHandlerLifecycle(t *testing.T) {
	t.Parallel()

	bc, sub := memoryBroadcaster(t)
	srv := newServer(t, records.NewService(connect(t), records.NewDirect(bc)))

	resp, body := do(t, srv, http.MethodPost, "/records", `{"id":42,"value":"x"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "sent", resp.Header.Get(records.ReplicationHeader))
	assert.Equal(t, "x", decodeRecord(t, body).Value)
	receive(t, sub)

	resp, body = do(t, srv, http.MethodGet, "/records/42", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(42), decodeRecord(t, body).ID)

	resp, body = do(t, srv, http.MethodPut, "/records/42", `{"value":"y"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), decodeRecord(t, body).Version)
	receive(t, sub)

	resp, body = do(t, srv, http.MethodGet, "/records", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []records.Record
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "y", list[0].Value)

	resp, _ = do(t, srv, http.MethodDelete, "/records/42", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sent", resp.Header.Get(records.ReplicationHeader))
	receive(t, sub)

	resp, body = do(t, srv, http.MethodGet, "/records/42", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid operation: record not found", body)
}

func TestHandlerPublishFailure(t *testing.T) {
	t.Parallel()

	srv := newServer(t, records.NewService(connect(t), records.NewDirect(failingBroadcaster(t))))

	resp, _ := do(t, srv, http.MethodPost, "/records", `{"id":1,"value":"x"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "failed", resp.Header.Get(records.ReplicationHeader))

	resp, body := do(t, srv, http.MethodGet, "/records/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "x", decodeRecord(t, body).Value)
}

func TestHandlerErrors(t *testing.T) {
	t.Parallel()

	gw := connect(t)
	srv := newServer(t, records.NewService(gw, nil))
	resp, _ := do(t, srv, http.MethodPost, "/records", `{"id":1,"value":"x"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		prefix string
	}{
		{"malformed json", http.MethodPost, "/records", `{"id":`, http.StatusBadRequest, "Invalid operation: malformed request body"},
		{"unknown field", http.MethodPost, "/records", `{"id":2,"name":"x"}`, http.StatusBadRequest, "Invalid operation: malformed request body"},
		{"non-positive id", http.MethodPost, "/records", `{"id":0,"value":"x"}`, http.StatusBadRequest, "Invalid operation: record id must be a positive integer"},
		{"duplicate", http.MethodPost, "/records", `{"id":1,"value":"x"}`, http.StatusBadRequest, "Invalid operation: duplicate key"},
		{"bad path id", http.MethodGet, "/records/abc", "", http.StatusBadRequest, "Invalid operation: record id must be a positive integer"},
		{"update missing", http.MethodPut, "/records/9", `{"value":"x"}`, http.StatusBadRequest, "Invalid operation: record not found"},
		{"delete missing", http.MethodDelete, "/records/9", "", http.StatusBadRequest, "Invalid operation: record not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.True(t, strings.HasPrefix(body, tt.prefix), body)
			assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
		})
	}

	t.Run("storage unavailable", func(t *testing.T) {
		require.NoError(t, gw.Close())
		resp, body := do(t, srv, http.MethodGet, "/records/1", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.True(t, strings.HasPrefix(body, "Database Error "), body)
	})
}

func TestHandlerDependencyMissing(t *testing.T) {
	t.Parallel()

	for _, svc := range []*records.Service{nil, records.NewService(nil, nil)} {
		srv := newServer(t, svc)
		resp, body := do(t, srv, http.MethodPost, "/records", `{"id":1,"value":"x"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Dependency missing for the operation", body)
		assert.Empty(t, resp.Header.Get(records.ReplicationHeader))
	}
}
