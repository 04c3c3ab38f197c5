package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/businessdata-uk/endole-crawler/internal/progress"
	"github.com/businessdata-uk/endole-crawler/internal/progress/sinks"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(sinks.NewSnapshotSink(), prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProgressServesSnapshot(t *testing.T) {
	t.Parallel()

	snapshot := sinks.NewSnapshotSink()
	runID := uuid.New()
	require.NoError(t, snapshot.Consume(context.Background(), progress.Event{
		RunID: runID, TS: time.Now(), Stage: progress.StageRunStart,
	}))
	require.NoError(t, snapshot.Consume(context.Background(), progress.Event{
		RunID: runID, TS: time.Now(), Stage: progress.StageTaskDone,
		Key: "SE14-6AB", Records: 4,
	}))

	srv := NewServer(snapshot, prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var snap sinks.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, runID.String(), snap.RunID)
	require.Equal(t, 1, snap.TasksSucceeded)
	require.Equal(t, 4, snap.RecordsStored)
	require.Equal(t, "SE14-6AB", snap.LastKey)
}

func TestProgressWithoutSnapshotSink(t *testing.T) {
	t.Parallel()

	srv := NewServer(nil, prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "endole_runs_active", Help: "test"})
	require.NoError(t, reg.Register(gauge))
	gauge.Set(1)

	srv := NewServer(sinks.NewSnapshotSink(), reg, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "endole_runs_active 1")
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewServer(sinks.NewSnapshotSink(), prometheus.NewRegistry(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, "127.0.0.1:0")
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
