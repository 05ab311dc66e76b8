// Package ui serves the generated report and run history over HTTP, with an
// optional data watcher that re-runs the pipeline when raw files change.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/greenwatch-labs/greenghost/internal/index"
	"github.com/greenwatch-labs/greenghost/internal/report"
	"github.com/greenwatch-labs/greenghost/internal/state"
)

// debounceDelay coalesces bursts of file events into one re-run.
const debounceDelay = 500 * time.Millisecond

// Config holds configuration for the report server.
type Config struct {
	Port      int
	ReportDir string
	DataDir   string
	Watch     bool
	Store     state.Store
	// Rerun executes the pipeline after a data change. Required when Watch
	// is set.
	Rerun  func(ctx context.Context) error
	Logger *slog.Logger
}

// Server serves the report artifacts.
type Server struct {
	port      int
	reportDir string
	dataDir   string
	watch     bool
	store     state.Store
	rerun     func(ctx context.Context) error
	logger    *slog.Logger
}

// NewServer creates a report server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		port:      cfg.Port,
		reportDir: cfg.ReportDir,
		dataDir:   cfg.DataDir,
		watch:     cfg.Watch,
		store:     cfg.Store,
		rerun:     cfg.Rerun,
		logger:    logger,
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/", s.handleReport)
	r.Get("/api/index.json", s.handleIndexJSON)
	r.Get("/api/runs.json", s.handleRunsJSON)
	r.Get("/healthz", s.handleHealth)

	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting report server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch {
		eg.Go(func() error {
			return s.watchData(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down report server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.reportDir, report.OutputName)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "no report generated yet, run the pipeline first", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleIndexJSON(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.reportDir, index.MapName)
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "no index generated yet, run the pipeline first", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}

func (s *Server) handleRunsJSON(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		http.Error(w, "run history is not enabled", http.StatusNotFound)
		return
	}
	runs, err := s.store.ListRuns(20)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	type runJSON struct {
		ID          string     `json:"id"`
		Environment string     `json:"environment"`
		Status      string     `json:"status"`
		StartedAt   time.Time  `json:"started_at"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
		Error       string     `json:"error,omitempty"`
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, runJSON{
			ID:          run.ID,
			Environment: run.Environment,
			Status:      string(run.Status),
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			Error:       run.Error,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Error("failed to encode runs", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// watchData re-runs the pipeline when a raw CSV changes.
func (s *Server) watchData(ctx context.Context) error {
	if s.rerun == nil {
		return fmt.Errorf("watch mode requires a rerun function")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dataDir); err != nil {
		s.logger.Error("failed to watch data directory", "dir", s.dataDir, "error", err)
		// Keep serving without the watcher.
		<-ctx.Done()
		return nil
	}

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".csv" {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				s.logger.Info("data changed, re-running pipeline", "file", event.Name)
				if err := s.rerun(ctx); err != nil {
					s.logger.Error("pipeline re-run failed", "error", err)
				}
			})

		case err := <-watcher.Errors:
			s.logger.Error("watcher error", "error", err)
		}
	}
}
