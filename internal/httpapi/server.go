// Package httpapi exposes a small local HTTP API for triggering syncs: on
// demand, per site or activity, and when the device regains connectivity.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/learnsync/internal/engine"
	"github.com/roach88/learnsync/internal/syncerr"
)

// Engine is the part of *engine.Engine the API drives.
type Engine interface {
	SyncAllSites(ctx context.Context) (map[string]engine.SiteReport, error)
	SyncSite(ctx context.Context, siteID string) ([]*engine.Result, error)
	SyncActivity(ctx context.Context, key engine.Key) (*engine.Result, error)
	Pending(ctx context.Context, siteID string) ([]engine.Key, error)
}

// Trigger wakes the background scheduler. *engine.Scheduler implements it.
type Trigger interface {
	Trigger()
}

// Server routes API requests to the sync engine.
type Server struct {
	engine  Engine
	trigger Trigger
	logger  *slog.Logger
}

// NewServer creates a server. trigger may be nil when no scheduler runs, in
// which case /connectivity syncs every site inline.
func NewServer(e Engine, trigger Trigger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, trigger: trigger, logger: logger}
}

// Router configures all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/sync", s.handleSyncAll)
	r.Post("/connectivity", s.handleConnectivity)
	r.Route("/sites/{siteID}", func(r chi.Router) {
		r.Get("/pending", s.handlePending)
		r.Post("/sync", s.handleSyncSite)
		r.Post("/{component}/{activityID}/sync", s.handleSyncActivity)
	})
	return r
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	reports, err := s.engine.SyncAllSites(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": reports})
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if s.trigger != nil {
		s.trigger.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
		return
	}
	s.handleSyncAll(w, r)
}

func (s *Server) handleSyncSite(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	results, err := s.engine.SyncSite(r.Context(), siteID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site": siteID, "results": results})
}

func (s *Server) handleSyncActivity(w http.ResponseWriter, r *http.Request) {
	activityID, err := strconv.ParseInt(chi.URLParam(r, "activityID"), 10, 64)
	if err != nil || activityID <= 0 {
		writeError(w, http.StatusBadRequest, "activity id must be a positive integer")
		return
	}
	key := engine.Key{
		SiteID:     chi.URLParam(r, "siteID"),
		Component:  chi.URLParam(r, "component"),
		ActivityID: activityID,
	}

	res, err := s.engine.SyncActivity(r.Context(), key)
	if res != nil {
		// A pass that aborted still reports what it did.
		writeJSON(w, http.StatusOK, res)
		return
	}
	s.fail(w, r, err)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "siteID")
	keys, err := s.engine.Pending(r.Context(), siteID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if keys == nil {
		keys = []engine.Key{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"site": siteID, "pending": keys})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, "%v", err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownComponent),
		syncerr.Is(err, syncerr.CodeSiteNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return 499
	case syncerr.IsStorage(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
