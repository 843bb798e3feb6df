// Package server implements the HTTP server that exposes the document QA
// pipeline via a REST API: document upload and management, chat, stats,
// health, readiness, and Prometheus metrics.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docqa/docqa-go/internal/history"
	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/pdfext"
	"github.com/docqa/docqa-go/internal/prompt"
)

// defaultMaxUploadBytes caps document uploads when no explicit limit is set.
const defaultMaxUploadBytes = 32 << 20

// validate is the shared request validator. validator instances cache struct
// metadata, so a single package-level instance is the intended usage.
var validate = validator.New()

// New constructs a Server from the pipeline service, an optional history
// store, and the config. metricsReg receives all Prometheus registrations;
// pass a fresh registry in tests to stay hermetic.
func New(svc ragService, hist history.Store, cfg *Config, metricsReg *prometheus.Registry) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: pipeline service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full generation round trip.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = 10
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	if metricsReg == nil {
		metricsReg = prometheus.NewRegistry()
	}

	s := &Server{
		svc:     svc,
		history: hist,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(metricsReg),
	}

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, authentication disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("DELETE /api/documents", s.handleDeleteAll)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/resync", s.handleResync)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)

	// Protected chain: request logging → rate limiting → auth → metrics → mux.
	api := requestLogger(log, rl.middleware(authMiddleware(cfg.APIKey, s.instrument(mux))))

	root := http.NewServeMux()
	root.Handle("/api/", api)
	// Health, readiness, and metrics bypass auth and rate limiting so probes
	// and scrapers work without credentials.
	root.Handle("GET /api/health", requestLogger(log, http.HandlerFunc(s.handleHealth)))
	root.Handle("GET /api/ready", requestLogger(log, http.HandlerFunc(s.handleReady)))
	root.Handle("GET /metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      root,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat. It replays the namespace's recent
// history into the question, then persists both sides of the exchange.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	ns := s.namespace(req.Namespace)

	var turns []prompt.Turn
	if s.history != nil {
		var err error
		turns, err = s.history.Recent(r.Context(), ns, s.cfg.HistoryDepth)
		if err != nil {
			log.Warn("chat: history unavailable", slog.Any("error", err))
		}
	}

	start := time.Now()
	answer, err := s.svc.Ask(r.Context(), req.Message, ns, turns)
	s.metrics.chatDurationSeconds.WithLabelValues(outcomeLabel(err)).Observe(time.Since(start).Seconds())
	s.metrics.chatRequestsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		log.Error("chat: ask failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "answer generation failed")
		return
	}

	if s.history != nil {
		if err := s.history.Append(r.Context(), ns, prompt.RoleUser, req.Message); err != nil {
			log.Warn("chat: could not persist user turn", slog.Any("error", err))
		}
		if err := s.history.Append(r.Context(), ns, prompt.RoleAssistant, answer.Text); err != nil {
			log.Warn("chat: could not persist assistant turn", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Answer:  answer.Text,
		Sources: toSourceRefs(answer.Matches),
	})
}

// handleUpload handles POST /api/documents. Expects a multipart form with the
// PDF under the "file" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	ns := s.namespace(r.FormValue("namespace"))

	pages, err := pdfext.Extract(file)
	if err != nil {
		log.Warn("upload: extraction failed",
			slog.String("file", header.Filename),
			slog.Any("error", err),
		)
		writeError(w, http.StatusUnprocessableEntity, "could not extract text from PDF")
		return
	}

	res, err := s.svc.Ingest(r.Context(), pages, header.Filename, ns)
	if err != nil {
		log.Error("upload: ingest failed",
			slog.String("file", header.Filename),
			slog.Any("error", err),
		)
		s.metrics.ingestTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadGateway, "document ingestion failed")
		return
	}
	s.metrics.ingestTotal.WithLabelValues("ok").Inc()
	s.metrics.ingestChunksTotal.Add(float64(res.ChunkCount))

	writeJSON(w, http.StatusCreated, ingestResponse{
		DocumentID: res.DocumentID,
		FileName:   header.Filename,
		Chunks:     res.ChunkCount,
		Pages:      res.Pages,
	})
}

// handleListDocuments handles GET /api/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ns := s.namespace(r.URL.Query().Get("namespace"))

	records, err := s.svc.ListDocuments(r.Context(), ns)
	if err != nil {
		logging.FromContext(r.Context()).Error("list documents failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}

	docs := make([]documentInfo, 0, len(records))
	for _, rec := range records {
		docs = append(docs, documentInfo{
			DocumentID: rec.DocumentID,
			FileName:   rec.FileName,
			Chunks:     rec.TotalChunks,
			Pages:      rec.Pages,
			Status:     string(rec.Status),
			UploadedAt: rec.UploadedAt.Format(time.RFC3339),
			Preview:    rec.Preview,
		})
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleDeleteDocument handles DELETE /api/documents/{id}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ns := s.namespace(r.URL.Query().Get("namespace"))
	id := r.PathValue("id")

	res, err := s.svc.DeleteDocument(r.Context(), ns, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		logging.FromContext(r.Context()).Error("delete document failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not delete document")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, VectorsDeleted: res.VectorsDeleted})
}

// handleDeleteAll handles DELETE /api/documents.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	ns := s.namespace(r.URL.Query().Get("namespace"))

	res, err := s.svc.DeleteAllDocuments(r.Context(), ns)
	if err != nil {
		logging.FromContext(r.Context()).Error("delete all failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not delete documents")
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: true, VectorsDeleted: res.VectorsDeleted})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ns := s.namespace(r.URL.Query().Get("namespace"))

	stats, err := s.svc.Stats(r.Context(), ns)
	if err != nil {
		logging.FromContext(r.Context()).Error("stats failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not compute stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalDocuments:           stats.TotalDocuments,
		TotalChunks:              stats.TotalChunks,
		TotalPages:               stats.TotalPages,
		AverageChunksPerDocument: stats.AverageChunksPerDocument,
	})
}

// handleResync handles POST /api/resync. Always forces reconciliation; the
// staleness-gated variant runs automatically inside the query path.
func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	ns := s.namespace(r.URL.Query().Get("namespace"))

	if err := s.svc.Resync(r.Context(), ns, true); err != nil {
		logging.FromContext(r.Context()).Error("resync failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "resync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"synced": true})
}

// handleClearHistory handles DELETE /api/history.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	ns := s.namespace(r.URL.Query().Get("namespace"))

	if err := s.history.Clear(r.Context(), ns); err != nil {
		logging.FromContext(r.Context()).Error("clear history failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// namespace applies the server default when the request omits one.
func (s *Server) namespace(ns string) string {
	if ns == "" {
		return s.cfg.Namespace
	}
	return ns
}

// outcomeLabel maps a handler error to the metric outcome label.
func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
