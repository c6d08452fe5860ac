// Package server exposes the ward ingestion HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gtel-dmp/geopipe/internal/ingest"
	"github.com/gtel-dmp/geopipe/internal/model"
)

// maxImportBody caps request bodies on the import endpoints.
const maxImportBody = 4 << 20 // 4 MiB

// Server handles the ward API routes.
type Server struct {
	store   ingest.Store
	origins []string
}

// Option customizes the server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origin allowlist. Defaults to "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// New creates a Server over the given store.
func New(store ingest.Store, opts ...Option) *Server {
	s := &Server{store: store, origins: []string{"*"}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Route("/wards", func(r chi.Router) {
		r.Get("/", s.handleListWards)
		r.Get("/{id}", s.handleGetWard)
		r.Post("/import", s.handleImport)
		r.Post("/import-text", s.handleImportText)
	})
	r.Get("/failures", s.handleListFailures)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports store counts and the current watermark. The four
// reads are independent, so they run concurrently.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var counts ingest.Counts
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { counts.Wards, err = s.store.CountWards(ctx); return })
	g.Go(func() (err error) { counts.Loads, err = s.store.CountLoads(ctx); return })
	g.Go(func() (err error) { counts.Failures, err = s.store.CountFailures(ctx); return })
	g.Go(func() (err error) { counts.Watermark, err = s.store.Watermark(ctx); return })
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read status", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleImport ingests a JSON array of ward objects.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var inputs []model.WardInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxImportBody)).Decode(&inputs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	valid := inputs[:0]
	for _, in := range inputs {
		if in.Name != "" {
			valid = append(valid, in)
		}
	}
	if len(valid) == 0 {
		writeError(w, http.StatusBadRequest, "no wards with a name in request", nil)
		return
	}

	created, err := s.store.ImportWards(r.Context(), valid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to import wards", err)
		return
	}

	zap.L().Info("wards imported", zap.Int("count", len(created)))
	writeJSON(w, http.StatusCreated, map[string]any{
		"imported": len(created),
		"wards":    created,
	})
}

// handleImportText ingests a plain-text body of comma-separated ward names.
func (s *Server) handleImportText(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	inputs := ingest.ParseWardText(string(body))
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no ward names in request", nil)
		return
	}

	created, err := s.store.ImportWards(r.Context(), inputs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to import wards", err)
		return
	}

	zap.L().Info("wards imported from text", zap.Int("count", len(created)))
	writeJSON(w, http.StatusCreated, map[string]any{
		"imported": len(created),
		"wards":    created,
	})
}

func (s *Server) handleListWards(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	wards, err := s.store.ListWards(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list wards", err)
		return
	}
	if wards == nil {
		wards = []model.Ward{}
	}
	writeJSON(w, http.StatusOK, wards)
}

func (s *Server) handleGetWard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ward id", err)
		return
	}

	ward, err := s.store.GetWard(r.Context(), id)
	if err != nil {
		if errors.Is(err, ingest.ErrWardNotFound) {
			writeError(w, http.StatusNotFound, "ward not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get ward", err)
		return
	}
	writeJSON(w, http.StatusOK, ward)
}

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	failures, err := s.store.ListFailures(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list failures", err)
		return
	}
	if failures == nil {
		failures = []model.GeocodeFailure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		zap.L().Warn(msg, zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
