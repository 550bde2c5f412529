package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/nninov/ngt/internal/enrichment"
	"github.com/nninov/ngt/internal/hitl"
	"github.com/nninov/ngt/internal/ingest"
	"github.com/nninov/ngt/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*Server, *enrichment.QueueRepository) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	raw := ledger.NewRepository(db, zerolog.Nop())
	require.NoError(t, raw.EnsureSchema())
	processed := ingest.NewProcessedStore(db, zerolog.Nop())
	require.NoError(t, processed.EnsureSchema())
	faulty := hitl.NewRepository(db, zerolog.Nop())
	require.NoError(t, faulty.EnsureSchema())
	queue := enrichment.NewQueueRepository(db, zerolog.Nop())
	require.NoError(t, queue.EnsureSchema())

	srv := New(Config{
		Port:      0,
		Log:       zerolog.Nop(),
		DevMode:   true,
		Raw:       raw,
		Processed: processed,
		Faulty:    faulty,
		Queue:     queue,
	})
	return srv, queue
}

func get(t *testing.T, srv *Server, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	code, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ngt", body["service"])
}

func TestStatusEndpoint(t *testing.T) {
	srv, queue := setupServer(t)
	_, err := queue.Enqueue("BBG000N9MNX3", "USD")
	require.NoError(t, err)

	code, body := get(t, srv, "/api/status")
	assert.Equal(t, http.StatusOK, code)

	queueStats, ok := body["queue"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), queueStats["pending"])

	raw, ok := body["raw"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), raw["portfolios"])
}

func TestQueueEndpoint(t *testing.T) {
	srv, queue := setupServer(t)
	_, err := queue.Enqueue("BBG000N9MNX3", "USD")
	require.NoError(t, err)

	code, body := get(t, srv, "/api/queue")
	assert.Equal(t, http.StatusOK, code)

	oldest, ok := body["oldest"].([]interface{})
	require.True(t, ok)
	require.Len(t, oldest, 1)
	entry := oldest[0].(map[string]interface{})
	assert.Equal(t, "BBG000N9MNX3", entry["identifier"])
}
