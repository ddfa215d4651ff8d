package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	council *orchestrator.Council
	alerts  AlertLog
	ingest  IngestStats
	journal DecisionLog
	limiter *rate.Limiter
	started time.Time
	logger  *zap.Logger
}

// NewHandler creates a new API handler. A non-positive ratePerSec disables
// rate limiting.
func NewHandler(council *orchestrator.Council, ratePerSec float64, burst int, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		council: council,
		started: time.Now(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if ratePerSec > 0 {
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return h
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
	}))
	r.Use(h.rateLimit)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Route("/council", func(r chi.Router) {
			r.Post("/analyze/fraud", h.analyzeFraud)
			r.Post("/analyze/stream", h.analyzeStream)
			r.Post("/analyze/fraud-batch", h.analyzeFraudBatch)

			r.Get("/health", h.councilHealth)
			r.Post("/snapshot", h.createSnapshot)
			r.Post("/regenerate", h.regenerate)
			r.Get("/snapshots", h.listSnapshots)
			r.Get("/audit", h.audit)
			r.Get("/fraud/stats", h.fraudStats)

			r.Get("/scheduler", h.schedulerStatus)
			r.Get("/alerts", h.alertHistory)
			r.Get("/ingest/stats", h.ingestStats)
			r.Get("/journal/fraud", h.journalFraud)
			r.Get("/journal/counts", h.journalCounts)
		})
	})

	return r
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
				"code":  "RATE_LIMITED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// --- Analysis ---

func (h *Handler) analyzeFraud(w http.ResponseWriter, r *http.Request) {
	var tx agent.TransactionInput
	if err := decodeBody(w, r, &tx); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := tx.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.council.AnalyzeFraud(r.Context(), tx))
}

func (h *Handler) analyzeStream(w http.ResponseWriter, r *http.Request) {
	var rec agent.StreamRecord
	if err := decodeBody(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if topic := r.URL.Query().Get("topic"); topic != "" {
		rec.TopicName = topic
	}
	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.council.AnalyzeStream(r.Context(), rec))
}

type batchRequest struct {
	Transactions []agent.TransactionInput `json:"transactions"`
}

func (h *Handler) analyzeFraudBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("transactions must not be empty"))
		return
	}
	writeJSON(w, http.StatusOK, h.council.AnalyzeFraudBatch(r.Context(), req.Transactions))
}

// --- Memory ---

func (h *Handler) councilHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.council.Health())
}

func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.council.CreateSnapshot()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"created": false,
			"reason":  "not enough entries to snapshot",
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"created":  true,
		"snapshot": snap.Summary(),
	})
}

func (h *Handler) regenerate(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.council.Regenerate()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"regenerated": false,
			"reason":      "no snapshot available",
		})
		return
	}
	h.logger.Info("manual regeneration", zap.String("snapshot", snap.ID))
	writeJSON(w, http.StatusOK, map[string]any{
		"regenerated": true,
		"snapshot":    snap.Summary(),
	})
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.council.Snapshots())
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.council.Audit(limit))
}

func (h *Handler) fraudStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.council.FraudStats())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
