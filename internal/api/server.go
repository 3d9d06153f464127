// Package api exposes the HTTP interface for the sourcing service.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/config"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/dibbs"
	"github.com/JakeFAU/nsn-sourcing/internal/dispatcher"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
	"github.com/JakeFAU/nsn-sourcing/internal/store"
	"github.com/JakeFAU/nsn-sourcing/internal/telemetry"
)

const (
	defaultRequestTimeout = 60 * time.Second
	enqueueTimeout        = 5 * time.Second
	maxBatchBody          = 1 << 20
)

// BatchService queues batches and reports their status.
type BatchService interface {
	Submit(ctx context.Context, inputs []string, resume bool) (dispatcher.BatchStatus, error)
	Get(id string) (dispatcher.BatchStatus, bool)
	List() []dispatcher.BatchStatus
}

// ResultReader looks up the latest result for an item key.
type ResultReader interface {
	Get(key string) (sourcing.ItemResult, bool)
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Deps bundles the collaborators of a Server. Everything but Batches is
// optional; missing collaborators make their routes answer 503.
type Deps struct {
	Batches   BatchService
	Results   ResultReader
	Runs      store.RunRepository
	Dates     DateLister
	Assistant Assistant
	Ready     []ReadyCheck
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the batch service and stores.
type Server struct {
	router  chi.Router
	batches BatchService
	results ResultReader
	dates   DateLister
	ready   []ReadyCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		batches: deps.Batches,
		results: deps.Results,
		dates:   deps.Dates,
		ready:   deps.Ready,
		logger:  logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	runs := NewRunHandler(deps.Runs, logger)
	dibbsDates := NewDIBBSHandler(deps.Dates, logger)
	assistant := NewAssistantHandler(deps.Assistant, logger)
	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.submitBatch)
			r.Get("/", s.listBatches)
			r.Get("/{batch_id}", s.getBatch)
		})
		r.Get("/nsn/{nsn}", s.getItem)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.ListRuns)
			r.Get("/{run_id}", runs.GetRun)
			r.Get("/{run_id}/sources", runs.ListRunSources)
		})
		r.Get("/dibbs/dates", dibbsDates.ListDates)
		r.Get("/dibbs/dates/{date}", dibbsDates.GetDate)
		r.Route("/assistant", func(r chi.Router) {
			r.Post("/classify", assistant.Classify)
			r.Post("/reply", assistant.Reply)
			r.Post("/quote", assistant.Quote)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// batchRequest lists NSNs directly, as free text, or as a DIBBS issue date
// whose open solicitations are added to the batch.
type batchRequest struct {
	NSNs     []string `json:"nsns"`
	Text     string   `json:"text"`
	Date     string   `json:"date"`
	MaxPages int      `json:"max_pages"`
	Resume   *bool    `json:"resume"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	if s.batches == nil {
		writeError(w, http.StatusServiceUnavailable, "batch service unavailable")
		return
	}
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	inputs := append([]string(nil), req.NSNs...)
	inputs = append(inputs, nsn.SplitList(req.Text)...)
	if req.Date != "" {
		dated, status, msg := s.datedInputs(r.Context(), req.Date, req.MaxPages)
		if status != 0 {
			writeError(w, status, msg)
			return
		}
		inputs = append(inputs, dated...)
	}
	resume := true
	if req.Resume != nil {
		resume = *req.Resume
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	status, err := s.batches.Submit(ctx, inputs, resume)
	switch {
	case errors.Is(err, sourcing.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "batch queue is full")
		return
	case err != nil:
		s.logger.Error("Submit batch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue batch")
		return
	}
	w.Header().Set("Location", "/v1/batches/"+status.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"batch": status})
}

// datedInputs expands a DIBBS issue date into NSN inputs. A non-zero status
// carries the error response.
func (s *Server) datedInputs(ctx context.Context, date string, maxPages int) ([]string, int, string) {
	if s.dates == nil {
		return nil, http.StatusServiceUnavailable, "dibbs unavailable"
	}
	if maxPages < 0 || maxPages > maxDatePages {
		return nil, http.StatusBadRequest, "invalid max_pages"
	}
	listings, err := s.dates.NSNsByDate(ctx, date, maxPages)
	switch {
	case errors.Is(err, dibbs.ErrInvalidDate):
		return nil, http.StatusBadRequest, err.Error()
	case err != nil:
		s.logger.Error("Load DIBBS listings failed", zap.String("date", date), zap.Error(err))
		return nil, http.StatusBadGateway, "failed to load dibbs listings"
	}
	nsns := listings.NSNs()
	if len(nsns) == 0 {
		return nil, http.StatusUnprocessableEntity, "no open NSN solicitations on " + listings.Date
	}
	return nsns, 0, ""
}

func (s *Server) listBatches(w http.ResponseWriter, _ *http.Request) {
	if s.batches == nil {
		writeError(w, http.StatusServiceUnavailable, "batch service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": s.batches.List()})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	if s.batches == nil {
		writeError(w, http.StatusServiceUnavailable, "batch service unavailable")
		return
	}
	status, ok := s.batches.Get(chi.URLParam(r, "batch_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": status})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusServiceUnavailable, "results unavailable")
		return
	}
	item, err := nsn.Parse(chi.URLParam(r, "nsn"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, ok := s.results.Get(item.String())
	if !ok {
		writeError(w, http.StatusNotFound, "no result for "+item.Dashed())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request identifier assigned by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("Request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// apiKeyMiddleware accepts the key from X-API-Key, an Authorization bearer
// token or the api_key query parameter.
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					key = strings.TrimSpace(token)
				}
			}
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), want) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("Write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
