package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"callwatch/formatting"
	"callwatch/internal/calls"
	"callwatch/internal/metrics"
	"callwatch/internal/store"
	"callwatch/queue"
)

const (
	defaultCallLimit = 100
	maxCallLimit     = 1000
)

// StateFunc reports the monitor's current state name.
type StateFunc func() string

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	store    *store.Store
	registry *calls.Registry
	metrics  *metrics.Metrics
	queue    *queue.Queue
	state    StateFunc
	log      *zap.SugaredLogger
}

func NewRouter(st *store.Store, reg *calls.Registry, m *metrics.Metrics, q *queue.Queue, state StateFunc, log *zap.SugaredLogger) *Router {
	return &Router{store: st, registry: reg, metrics: m, queue: q, state: state, log: log}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/api/calls", r.calls)
}

type activeCall struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	Country    string    `json:"country"`
	DetectedAt time.Time `json:"detected_at"`
	LastSeen   time.Time `json:"last_seen"`
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	active := r.registry.Active()
	out := make([]activeCall, 0, len(active))
	for _, c := range active {
		out = append(out, activeCall{
			ID:         c.ID,
			Number:     formatting.Mask(c.PhoneNumber),
			Country:    c.Country,
			DetectedAt: c.DetectedAt,
			LastSeen:   c.LastSeen,
		})
	}
	state := "unknown"
	if r.state != nil {
		state = r.state()
	}
	r.respondJSON(w, map[string]any{
		"state":      state,
		"active":     out,
		"processing": r.registry.Processing(),
		"metrics":    r.metrics.Snapshot(),
		"queue":      r.queue.Stats(),
	})
}

func (r *Router) calls(w http.ResponseWriter, req *http.Request) {
	limit := defaultCallLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxCallLimit)
	}
	list, err := r.store.ListCalls(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]store.Call, 0, len(list))
	for _, c := range list {
		c.PhoneNumber = formatting.Mask(c.PhoneNumber)
		out = append(out, c)
	}
	r.respondJSON(w, out)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if r.state != nil && r.state() == "stopped" {
		http.Error(w, "monitor stopped", http.StatusServiceUnavailable)
		return
	}
	if !r.queue.Healthy() {
		http.Error(w, "queue not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.log.Warnw("write json", "err", err)
	}
}
