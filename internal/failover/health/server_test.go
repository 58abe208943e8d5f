package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

type stubLog struct {
	storage.OperationLog
	stats   storage.LogStats
	err     error
	records []*domain.Record
}

func (s *stubLog) Stats(context.Context) (storage.LogStats, error) { return s.stats, s.err }

func (s *stubLog) List(_ context.Context, limit int) ([]*domain.Record, error) {
	if len(s.records) > limit {
		return s.records[:limit], nil
	}
	return s.records, nil
}

type countingReplayer struct{ n int }

func (r *countingReplayer) Trigger() { r.n++ }

func TestMonitor_Status(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		fail   bool
		stats  storage.LogStats
		err    error
		expect SystemStatus
		stale  bool
	}{
		{name: "healthy", expect: StatusHealthy},
		{name: "primary down", fail: true, expect: StatusDegraded},
		{name: "draining", stats: storage.LogStats{Pending: 3, OldestAt: now.Add(-time.Minute)}, expect: StatusDegraded},
		{name: "too many", stats: storage.LogStats{Pending: 11, OldestAt: now}, expect: StatusDegraded, stale: true},
		{name: "too old", stats: storage.LogStats{Pending: 1, OldestAt: now.Add(-time.Hour)}, expect: StatusDegraded, stale: true},
		{name: "local broken", err: errors.New("disk I/O error"), expect: StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(DefaultBackoff)
			c.now = func() time.Time { return now }
			if tt.fail {
				c.ReportFailure(errRefused)
			}
			m := NewMonitor(c, &stubLog{stats: tt.stats, err: tt.err}, Thresholds{MaxAge: 15 * time.Minute, MaxEntries: 10})

			report := m.Check(context.Background())
			assert.Equal(t, tt.expect, report.Status)
			assert.Equal(t, tt.stale, report.Stale)
		})
	}
}

func TestServer_Health(t *testing.T) {
	c := NewController(DefaultBackoff)
	log := &stubLog{}
	srv := NewServer(NewMonitor(c, log, Thresholds{}), log, &countingReplayer{}, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	log.err = errors.New("database is locked")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_PendingAndReplay(t *testing.T) {
	c := NewController(DefaultBackoff)
	log := &stubLog{records: []*domain.Record{
		{ID: 1, OpID: uuid.New(), Group: "orders", Op: domain.Insert{Table: "orders", Rows: []domain.Row{{"id": "o2"}}}},
		{ID: 2, OpID: uuid.New(), Group: "orders", Op: domain.Update{Table: "orders", Patch: domain.Row{"status": "completed"}, Match: domain.Match{"id": "o2"}}},
	}}
	replayer := &countingReplayer{}
	h := NewServer(NewMonitor(c, log, Thresholds{}), log, replayer, 0).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pending?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var views []pendingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, domain.KindInsert, views[0].Kind)
	assert.Equal(t, "orders", views[0].Table)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pending?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replay", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, replayer.n)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/replay", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGRPCServer_FollowsController(t *testing.T) {
	c := NewController(DefaultBackoff)
	s := NewGRPCServer(c, 0)
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: PrimaryService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	c.ReportFailure(errRefused)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	c.ReportSuccess()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
}
