package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/grip_recorder/internal/catalog"
	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/motion"
	"github.com/relabs-tech/grip_recorder/internal/recording"
)

// runner is the part of the orchestrator the web surface drives.
type runner interface {
	Go(ctx context.Context, p recording.Params) (string, <-chan *recording.Result, error)
	Abort() bool
	State() recording.State
}

type runLister interface {
	List(ctx context.Context, limit int) ([]catalog.Entry, error)
}

// Server is the HTTP control surface: start and abort runs, read status,
// list past runs, stream events over a websocket.
type Server struct {
	base    context.Context // runs outlive the request that started them
	runs    runner
	hub     *Hub
	catalog runLister // may be nil
	static  string

	inflight sync.WaitGroup
}

// NewServer wires the handlers. Runs started through it use base as their
// context, so cancelling base interrupts the wait of an active run.
func NewServer(base context.Context, runs runner, hub *Hub, cat runLister) *Server {
	return &Server{base: base, runs: runs, hub: hub, catalog: cat, static: "web"}
}

type runRequest struct {
	DistanceCM float64 `json:"distance_cm"`
	SpeedMPS   float64 `json:"speed_mps"`
	Direction  any     `json:"direction"` // "forward", "reverse", 1 or 0
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("POST /api/abort", s.handleAbort)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /ws/status", s.hub.ServeWS)

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir(s.static)))
	return mux
}

// Wait blocks until every run started through the server has finished.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	dir := motion.Forward
	if req.Direction != nil {
		d, err := motion.ParseDirection(fmt.Sprint(req.Direction))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		dir = d
	}
	p := recording.Params{DistanceCM: req.DistanceCM, SpeedMPS: req.SpeedMPS, Direction: dir}

	id, done, err := s.runs.Go(s.base, p)
	switch {
	case errors.Is(err, recording.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, recording.ErrBusy):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		res := <-done
		log.Printf("web: run %s finished: %s", res.SessionID, res.State)
	}()

	log.Printf("web: run %s started: %.1f cm at %.2f m/s, %s", id, p.DistanceCM, p.SpeedMPS, p.Direction)
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": s.runs.Abort()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if e, ok := s.hub.Last(); ok {
		writeJSON(w, http.StatusOK, e)
		return
	}
	writeJSON(w, http.StatusOK, recording.Event{State: s.runs.State(), Time: time.Now()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusNotFound, errors.New("no run catalog configured"))
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", q))
			return
		}
		limit = n
	}
	entries, err := s.catalog.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// RunWeb connects the rig and serves the control surface until ctx ends.
func RunWeb(ctx context.Context, cfg *config.Config) error {
	rig, err := OpenRig(ctx, cfg)
	if err != nil {
		return err
	}
	defer rig.Close()

	hub := NewHub()
	observers := []recording.Observer{hub}
	if cfg.MQTTEnabled() {
		client, err := ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDRecorder)
		if err != nil {
			log.Printf("web: MQTT unavailable, status only over websocket: %v", err)
		} else {
			defer client.Disconnect(250)
			observers = append(observers, NewMQTTReporter(client, cfg))
		}
	}
	orch := rig.Orchestrator(cfg, observers...)
	defer orch.Close()

	var lister runLister
	if rig.Catalog != nil {
		lister = rig.Catalog
	}
	api := NewServer(ctx, orch, hub, lister)
	srv := &http.Server{
		Addr:              cfg.WebAddr(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("web: server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("web: shutting down")
		hub.Close()
		orch.Abort()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()
	// an active run still disarms and saves before the rig closes
	api.Wait()
	return err
}
