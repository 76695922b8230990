// Package server exposes the orchestrator over HTTP: session control,
// report retrieval, batch crawling, health surfaces and a websocket
// progress stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"deepresearch/internal/config"
	"deepresearch/internal/export"
	"deepresearch/internal/fetcher"
	"deepresearch/internal/health"
	"deepresearch/internal/logging"
	"deepresearch/internal/session"
	"deepresearch/internal/types"
)

// Researcher is the orchestrator slice the handlers use.
type Researcher interface {
	Start(query string, privacy types.PrivacyMode) (string, error)
	Approve(id, restated string) error
	Stop(id string) error
	Status(id string) (*types.Session, error)
	ReportFor(id string) (*types.Report, error)
	Subscribe(id string) (<-chan session.Event, func(), error)
}

// PageFetcher loads one page for the crawl batch endpoint.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetcher.Result, error)
}

// Server is the HTTP surface.
type Server struct {
	cfg     *config.Config
	orch    Researcher
	checker *health.Checker
	fetcher PageFetcher
}

// New assembles the server.
func New(cfg *config.Config, orch Researcher, checker *health.Checker, pageFetcher PageFetcher) *Server {
	return &Server{cfg: cfg, orch: orch, checker: checker, fetcher: pageFetcher}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Route("/research", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/approve", s.handleApprove)
			r.Post("/stop", s.handleStop)
			r.Get("/report", s.handleReport)
			r.Get("/events", s.handleEvents)
		})
	})

	r.Post("/crawl/batch", s.handleCrawlBatch)
	r.Post("/export", s.handleExport)

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)
	r.Get("/health/config", s.handleHealthConfig)

	return r
}

// ListenAndServe runs the server until the context is cancelled, then
// drains with a grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type startRequest struct {
	Query   string            `json:"query"`
	Privacy types.PrivacyMode `json:"privacy_mode"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Privacy != "" && req.Privacy != types.PrivacyLocalOnly && req.Privacy != types.PrivacyCloudAllowed {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown privacy_mode %q", req.Privacy))
		return
	}

	id, err := s.orch.Start(req.Query, req.Privacy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "started"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.orch.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type approveRequest struct {
	RestatedQuery string `json:"restated_query"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	if err := s.orch.Approve(chi.URLParam(r, "id"), req.RestatedQuery); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Stop(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.ReportFor(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type crawlRequest struct {
	URLs []string `json:"urls"`
}

type crawlResult struct {
	URL   string `json:"url"`
	OK    bool   `json:"ok"`
	Chars int    `json:"chars,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleCrawlBatch fetches a set of pages through the stealth fetcher.
// Per-host serialization lives in the fetcher; this only bounds total
// parallelism.
func (s *Server) handleCrawlBatch(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("urls must not be empty"))
		return
	}
	const maxBatch = 50
	if len(req.URLs) > maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Errorf("batch too large: %d urls (max %d)", len(req.URLs), maxBatch))
		return
	}

	results := make([]crawlResult, len(req.URLs))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(4)
	for i, u := range req.URLs {
		i, u := i, u
		g.Go(func() error {
			res, err := s.fetcher.Fetch(ctx, u)
			if err != nil {
				results[i] = crawlResult{URL: u, Error: err.Error()}
				return nil
			}
			results[i] = crawlResult{URL: u, OK: true, Chars: len(res.Text), Title: res.Title, Text: res.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type exportRequest struct {
	Format string        `json:"format"`
	Report *types.Report `json:"report"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Report == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("report is required"))
		return
	}

	data, mediaType, err := export.Render(format, req.Report)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			writeError(w, http.StatusNotImplemented, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Snapshot(r.Context())
	code := http.StatusOK
	if report.Status == health.StatusFailed {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.Status)})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Snapshot(r.Context())
	code := http.StatusOK
	if report.Status == health.StatusFailed {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

// handleHealthConfig returns the effective configuration with every
// secret masked.
func (s *Server) handleHealthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Masked())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.ServerWarn("response encoding failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
