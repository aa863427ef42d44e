// Package web provides the HTTP control and status server for the relaybox daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/PiotrChr/RelayBoxController/internal/status"
	"github.com/PiotrChr/RelayBoxController/internal/taskqueue"
)

// Source tags tasks enqueued by this server.
const Source = "API"

// Controller accepts relay requests. Implemented by *control.Loop.
type Controller interface {
	Request(circuit int, energize bool, source string) error
	Circuits() int
	Status() map[string]bool
}

// Options tunes request admission.
type Options struct {
	// RatePerSec limits /enable and /disable. Zero or negative disables limiting.
	RatePerSec float64
	Burst      int
}

// Server serves the control endpoints and status pages over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	limiter    *rate.Limiter
}

// New creates a Server that enqueues relay requests on ctrl and reads
// daemon state from tracker.
func New(addr string, tracker *status.Tracker, ctrl Controller, opts Options) *Server {
	s := &Server{tracker: tracker, ctrl: ctrl}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/enable", s.handleRequest(true))
	mux.HandleFunc("/disable", s.handleRequest(false))
	mux.HandleFunc("/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(s.ctrl.Status())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleRequest(energize bool) http.HandlerFunc {
	ack := "Disabling circuit"
	if energize {
		ack = "Enabling circuit"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}

		raw := r.FormValue("circuit")
		if raw == "" {
			http.Error(w, "Missing circuit param", http.StatusBadRequest)
			return
		}
		circuit, err := strconv.Atoi(raw)
		if err != nil || circuit < 0 || circuit >= s.ctrl.Circuits() {
			http.Error(w, "Invalid circuit param", http.StatusBadRequest)
			return
		}

		if err := s.ctrl.Request(circuit, energize, Source); err != nil {
			log.Warn().Err(err).Int("circuit", circuit).Bool("energize", energize).Msg("http request rejected")
			if errors.Is(err, taskqueue.ErrQueueFull) {
				http.Error(w, "Queue full", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, "Invalid circuit param", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(ack))
	}
}
