package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// Replayer starts a replay pass without waiting for it.
type Replayer interface {
	Trigger()
}

// Server provides HTTP endpoints for health monitoring and replay control.
type Server struct {
	monitor  *Monitor
	oplog    storage.OperationLog
	replayer Replayer
	server   *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, oplog storage.OperationLog, replayer Replayer, port int) *Server {
	s := &Server{
		monitor:  monitor,
		oplog:    oplog,
		replayer: replayer,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for mounting or tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", s.handleDetailed).Methods(http.MethodGet)
	r.HandleFunc("/pending", s.handlePending).Methods(http.MethodGet)
	r.HandleFunc("/replay", s.handleReplay).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.Check(r.Context())
	status := http.StatusOK
	if report.Status == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(report.Status)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Check(r.Context()))
}

type pendingView struct {
	ID         int64                `json:"id"`
	OpID       string               `json:"op_id"`
	Group      string               `json:"group"`
	Kind       domain.OperationKind `json:"kind"`
	Table      string               `json:"table"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	Attempts   int                  `json:"attempts"`
	LastError  string               `json:"last_error,omitempty"`
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	records, err := s.oplog.List(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	views := make([]pendingView, 0, len(records))
	for _, rec := range records {
		views = append(views, pendingView{
			ID:         rec.ID,
			OpID:       rec.OpID.String(),
			Group:      rec.Group,
			Kind:       rec.Op.Kind(),
			Table:      rec.Op.Target(),
			EnqueuedAt: rec.EnqueuedAt,
			Attempts:   rec.Attempts,
			LastError:  rec.LastError,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleReplay(w http.ResponseWriter, _ *http.Request) {
	s.replayer.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
