package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/nidhogg/aegis-council/internal/gateway"
	"github.com/nidhogg/aegis-council/internal/ingest"
	"github.com/nidhogg/aegis-council/internal/journal"
	"go.uber.org/zap"
)

var errNotConfigured = errors.New("not configured on this server")

// AlertLog is the alert gateway as seen by the API.
type AlertLog interface {
	History(limit int) []gateway.AlertRecord
	Statuses() []gateway.AdapterStatus
}

// IngestStats reports stream ingestion counters.
type IngestStats interface {
	Stats() ingest.Stats
}

// DecisionLog queries the decision journal.
type DecisionLog interface {
	RecentFraud(ctx context.Context, cardID string, limit int) ([]journal.FraudRecord, error)
	ActionCounts(ctx context.Context, kind string) (map[string]int, error)
}

// Option wires an optional collaborator into the handler.
type Option func(*Handler)

// WithAlerts exposes alert history and adapter status.
func WithAlerts(a AlertLog) Option { return func(h *Handler) { h.alerts = a } }

// WithIngest exposes ingestion counters.
func WithIngest(s IngestStats) Option { return func(h *Handler) { h.ingest = s } }

// WithJournal exposes journal queries.
func WithJournal(d DecisionLog) Option { return func(h *Handler) { h.journal = d } }

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	running := h.council.Scheduler().Running()
	writeJSON(w, http.StatusOK, map[string]any{
		"running_count": len(running),
		"running":       running,
	})
}

func (h *Handler) alertHistory(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"adapters": h.alerts.Statuses(),
		"history":  h.alerts.History(limit),
	})
}

func (h *Handler) ingestStats(w http.ResponseWriter, r *http.Request) {
	if h.ingest == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, h.ingest.Stats())
}

func (h *Handler) journalFraud(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	records, err := h.journal.RecentFraud(r.Context(), r.URL.Query().Get("card"), limit)
	if err != nil {
		h.logger.Error("journal query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []journal.FraudRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) journalCounts(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "fraud"
	}
	if kind != "fraud" && kind != "stream" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be fraud or stream"})
		return
	}
	counts, err := h.journal.ActionCounts(r.Context(), kind)
	if err != nil {
		h.logger.Error("journal query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "counts": counts})
}

// queryLimit parses ?limit=, writing a 400 when it is not a non-negative
// integer.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}
