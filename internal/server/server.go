// Package server exposes fitting runs as HTTP jobs with progress streaming,
// rendered results and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	runStore   store.Store
	defaults   config.RunConfig
	addr       string
	server     *http.Server

	// jobs run under ctx so that Shutdown can stop them
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates an HTTP server. Jobs start from defaults, overridden by
// the fields of the request body. runStore may be nil, in which case
// finished runs are only kept in memory.
func NewServer(addr string, runStore store.Store, defaults config.RunConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		runStore:   runStore,
		defaults:   defaults,
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handler returns the routed handler with middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/runs", s.handleListRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.defaults.Observability.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels running jobs and waits for them
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.jobManager.broadcaster.Close()
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// startJob runs a job in the background
func (s *Server) startJob(jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runJob(s.ctx, s.jobManager, s.runStore, jobID)
	}()
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleCancelJob(w, r, jobID)
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == store.ArtifactOverlay || parts[1] == store.ArtifactMask:
		s.handleGetJobImage(w, r, jobID, parts[1])
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeJobConfig(r.Body, s.defaults)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(cfg)
	s.startJob(job.ID)

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleCancelJob handles DELETE /api/v1/jobs/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.jobManager.CancelJob(jobID) {
		http.Error(w, "Job is not running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	ips := float64(0)
	if elapsed.Seconds() > 0 {
		ips = float64(job.Iterations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":         job.ID,
		"state":      job.State,
		"config":     job.Config,
		"iterations": job.Iterations,
		"accepted":   job.Accepted,
		"score":      job.Score,
		"size":       job.Size,
		"bestScore":  job.BestScore,
		"bestChain":  job.BestChain,
		"marks":      job.Marks,
		"summary":    job.Summary,
		"elapsed":    elapsed.Seconds(),
		"ips":        ips,
		"startTime":  job.StartTime,
		"endTime":    job.EndTime,
		"error":      job.Error,
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetJobImage handles GET /api/v1/jobs/:id/overlay.png and mask.png
func (s *Server) handleGetJobImage(w http.ResponseWriter, r *http.Request, jobID, name string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.State != StateCompleted || job.image == nil {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	marks, err := mark.FromRecords(job.Marks)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to restore marks: %v", err), http.StatusInternalServerError)
		return
	}
	overlay, mask, err := job.image.Artifacts(marks)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to render: %v", err), http.StatusInternalServerError)
		return
	}
	if name == store.ArtifactMask {
		writePNG(w, mask)
		return
	}
	writePNG(w, overlay)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runStore == nil {
		writeJSON(w, http.StatusOK, []store.RunInfo{})
		return
	}
	infos, err := s.runStore.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleRunsWithID handles /api/v1/runs/:id and /api/v1/runs/:id/<artifact>
func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	if parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}
	if s.runStore == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	runID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondStoreError(w, s.runStore.DeleteRun(runID), http.StatusNoContent, nil)
	case len(parts) == 1:
		record, err := s.runStore.LoadRun(runID)
		s.respondStoreError(w, err, http.StatusOK, record)
	case parts[1] == "trace":
		s.handleRunTrace(w, runID)
	default:
		data, err := s.runStore.LoadArtifact(runID, parts[1])
		if err != nil {
			s.respondStoreError(w, err, 0, nil)
			return
		}
		writePNG(w, data)
	}
}

// handleRunTrace handles GET /api/v1/runs/:id/trace with per-chain progress
// curves. Only the filesystem store keeps traces.
func (s *Server) handleRunTrace(w http.ResponseWriter, runID string) {
	fsStore, ok := s.runStore.(*store.FSStore)
	if !ok {
		http.Error(w, "Traces are not kept by this store", http.StatusNotFound)
		return
	}
	reader, err := store.NewTraceReader(fsStore.BaseDir(), runID)
	if err != nil {
		s.respondStoreError(w, err, 0, nil)
		return
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	s.respondStoreError(w, err, http.StatusOK, store.ChainCurves(entries))
}

// respondStoreError maps store errors to HTTP status codes, or writes body
// with status on success
func (s *Server) respondStoreError(w http.ResponseWriter, err error, status int, body any) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case body == nil:
		w.WriteHeader(status)
	default:
		writeJSON(w, status, body)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
