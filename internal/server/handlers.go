package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/apiharvest/internal/app"
	"github.com/raphaelgruber/apiharvest/internal/db"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

const (
	maxListLimit   = 500
	runHistorySize = 50
	wsWriteTimeout = 10 * time.Second
)

// Item is the API view of a catalog item.
type Item struct {
	ID string `json:"id"`
	models.CatalogItem
}

func toItem(ci models.CatalogItem) Item {
	id, _ := models.RecordIDString(ci.ID)
	return Item{ID: id, CatalogItem: ci}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req app.SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if s.sources == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no sources configured")
		return
	}

	src, opts, err := s.sources(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.runner.Start(s.baseCtx, src, opts)
	if errors.Is(err, service.ErrRunInProgress) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, run.Snapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	byID := map[string]service.RunSnapshot{}
	if s.catalog != nil {
		stored, err := s.catalog.ListRuns(r.Context(), runHistorySize)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, m := range stored {
			snap := service.SnapshotFromModel(m)
			byID[snap.ID] = snap
		}
	}
	// Live state is fresher than the debounced stored copy.
	for _, run := range s.runner.Runs().List() {
		snap := run.Snapshot()
		byID[snap.ID] = snap
	}

	runs := make([]service.RunSnapshot, 0, len(byID))
	for _, snap := range byID {
		runs = append(runs, snap)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if run := s.runner.Runs().Get(id); run != nil {
		s.writeJSON(w, http.StatusOK, run.Snapshot())
		return
	}
	if s.catalog == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	stored, err := s.catalog.GetRun(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, service.SnapshotFromModel(*stored))
}

// handleWatchRun streams run snapshots over a websocket until the run ends or
// the client goes away.
func (s *Server) handleWatchRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	updates, stop, ok := s.runner.Runs().Watch(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found or no longer live")
		return
	}
	defer stop()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close()
	// The server's read timeout would otherwise end the stream.
	_ = conn.SetReadDeadline(time.Time{})

	// Reading is only needed to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, open := <-updates:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				s.logger.Debug("watch write failed", "run_id", id, "error", err)
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalog(w) {
		return
	}
	q := r.URL.Query()
	filter := models.ItemFilter{
		Category: q.Get("category"),
		Source:   q.Get("source"),
		Query:    q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	found, err := s.catalog.ListItems(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]Item, 0, len(found))
	for _, ci := range found {
		items = append(items, toItem(ci))
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalog(w) {
		return
	}
	item, err := s.catalog.GetItem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err, "item not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toItem(*item))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if !s.requireCatalog(w) {
		return
	}
	counts, err := s.catalog.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if counts == nil {
		counts = []models.CategoryCount{}
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) requireCatalog(w http.ResponseWriter) bool {
	if s.catalog == nil {
		s.writeError(w, http.StatusServiceUnavailable, "catalog not configured")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, db.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
