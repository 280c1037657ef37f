// Package webhook implements the local webhook listener: project
// registration, usage tracking, and GitHub push events that trigger
// pipeline rebuilds.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

// ErrConfigChanged is returned by Serve when reload is enabled and the
// project config file changes. The caller reloads and serves again.
var ErrConfigChanged = errors.New("config changed")

// RebuildFunc triggers a pipeline rebuild for a main-branch push.
type RebuildFunc func(ctx context.Context) error

// Config wires a Server.
type Config struct {
	Host string
	Port int

	// Version is reported by the service info endpoint.
	Version string

	// ConfigPath, with Reload set, restarts the server when the file
	// changes.
	ConfigPath string
	Reload     bool

	// Rebuild overrides the default detached `sbdk run` subprocess.
	Rebuild RebuildFunc

	Logger *slog.Logger
}

// Server is the webhook listener.
type Server struct {
	cfg     Config
	state   *State
	rebuild RebuildFunc
	logger  *slog.Logger
}

// NewServer builds a Server with fresh state.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rebuild := cfg.Rebuild
	if rebuild == nil {
		rebuild = detachedRebuild(logger)
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		cfg:     cfg,
		state:   NewState(),
		rebuild: rebuild,
		logger:  logger,
	}
}

// State exposes the listener state, mainly for tests.
func (s *Server) State() *State { return s.state }

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/projects", s.handleProjects)
	r.Get("/usage/{projectID}", s.handleUsage)
	r.Post("/register", s.handleRegister)
	r.Post("/track/usage", s.handleTrackUsage)
	r.Post("/webhook/github", s.handleGitHub)

	return r
}

// Serve blocks until ctx is cancelled or, with reload enabled, the
// config file changes (ErrConfigChanged).
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.logger.Info("starting webhook listener", "addr", addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Reload && s.cfg.ConfigPath != "" {
		eg.Go(func() error {
			return s.watchConfig(egctx)
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

		s.logger.Debug("shutting down webhook listener")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchConfig waits for a write to the config file and returns
// ErrConfigChanged so the errgroup tears the server down.
func (s *Server) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors often replace the file, which would
	// drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.cfg.ConfigPath)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	target := filepath.Base(s.cfg.ConfigPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			s.logger.Info("config changed, restarting listener",
				"path", s.cfg.ConfigPath)
			return ErrConfigChanged
		case err := <-watcher.Errors:
			s.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	info := s.state.Info()
	info["version"] = s.cfg.Version
	info["endpoints"] = []string{
		"GET /health",
		"GET /projects",
		"GET /usage/{project_id}",
		"POST /register",
		"POST /track/usage",
		"POST /webhook/github",
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": s.state.Projects(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	events, ok := s.state.Usage(projectID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Project not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"events":     events,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName string `json:"project_name"`
		Email       string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ProjectName) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project_name is required",
		})
		return
	}

	p := s.state.RegisterProject(strings.TrimSpace(req.ProjectName), req.Email)
	s.logger.Info("project registered", "project_id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTrackUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string         `json:"project_id"`
		Command   string         `json:"command"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ProjectID == "" || req.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project_id and command are required",
		})
		return
	}

	ok := s.state.TrackUsage(UsageEvent{
		ProjectID: req.ProjectID,
		Command:   req.Command,
		Metadata:  req.Metadata,
	})
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "Project not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "tracked"})
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Ref string `json:"ref"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Only pushes to the default branch trigger a rebuild.
	if !strings.HasSuffix(payload.Ref, "/main") {
		s.logger.Debug("push ignored", "ref", payload.Ref)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := s.rebuild(r.Context()); err != nil {
		s.logger.Error("rebuild trigger failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rebuild failed: " + err.Error(),
		})
		return
	}

	s.state.RecordRebuild()
	s.logger.Info("rebuild triggered", "ref", payload.Ref)
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuild_triggered"})
}

// detachedRebuild starts `sbdk run` as a detached subprocess so the
// listener keeps serving while the rebuild happens.
func detachedRebuild(logger *slog.Logger) RebuildFunc {
	return func(ctx context.Context) error {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}

		cmd := exec.Command(exe, "run")
		cmd.Stdin = nil
		cmd.Stdout = nil
		cmd.Stderr = nil
		// The child records its run history under the webhook trigger.
		cmd.Env = append(os.Environ(), "SBDK_TRIGGER=webhook")
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start rebuild: %w", err)
		}

		logger.Info("rebuild started", "pid", cmd.Process.Pid)
		return cmd.Process.Release()
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
