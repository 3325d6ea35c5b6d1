package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"camtrap/internal/pipeline"
	"camtrap/internal/storage"
	"camtrap/internal/watch"
)

// Server exposes the job pipeline and the survey catalogue over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	watcher  *watch.Watcher
	hub      *hub
	upgrader websocket.Upgrader
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a server. watcher may be nil when directory watching
// is disabled.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, watcher *watch.Watcher, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		watcher:  watcher,
		hub:      newHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Start begins serving and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.log.Error("failed to start watcher", "error", err)
			return err
		}
	}

	go s.hub.run()
	go s.relayResults(ctx)

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")

		if s.watcher != nil {
			s.watcher.Stop()
		}
		s.hub.stop()

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	r.HandleFunc("/projects", s.handleProjects).Methods("GET")
	r.HandleFunc("/projects/{id:[0-9]+}/locations", s.handleLocations).Methods("GET")
	r.HandleFunc("/locations/{id:[0-9]+}/videos", s.handleVideos).Methods("GET")
	r.HandleFunc("/locations/{id:[0-9]+}/tracks", s.handleTracks).Methods("GET")
}

// relayResults forwards pipeline results to websocket clients.
func (s *Server) relayResults(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, err := json.Marshal(map[string]any{
				"job_id": res.Job.ID,
				"type":   res.Job.Type,
				"error":  errString(res.Error),
				"meta":   res.Meta,
			})
			if err == nil {
				select {
				case s.hub.broadcast <- payload:
				case <-s.hub.quit:
					return
				}
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	select {
	case s.hub.register <- conn:
	case <-s.hub.quit:
		conn.Close()
		return
	}

	// Drain reads so pings and close frames are processed; unregister on
	// any read error.
	go func() {
		defer func() {
			select {
			case s.hub.unregister <- conn:
			case <-s.hub.quit:
				conn.Close()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Projects()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recs, err := s.store.LocationsByProject(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recs, err := s.store.VideosByLocation(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recs, err := s.store.TracksByLocation(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
