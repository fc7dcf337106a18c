package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"
)

const httpPrefix = "/debug/pprof"

// HTTPMode serves the runtime profiles while a command runs, for batches
// long enough to attach `go tool pprof` to them. POST /debug/pprof/snapshot
// additionally writes the configured non-CPU profiles to OutputDir.
type HTTPMode struct {
	collector *Collector

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
	serveErr error
}

// NewHTTPMode creates a new HTTPMode.
func NewHTTPMode() *HTTPMode {
	return &HTTPMode{}
}

// Name returns the mode name.
func (m *HTTPMode) Name() string {
	return string(ModeHTTP)
}

// Start binds the listen address and serves in the background. Bind errors
// are returned here rather than from the serving goroutine.
func (m *HTTPMode) Start(ctx context.Context, c *Collector) error {
	m.collector = c

	ln, err := net.Listen("tcp", c.Config().Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Config().Addr, err)
	}
	m.listener = ln
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.serveErr = err
		}
	}()
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (m *HTTPMode) Stop() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.server.Shutdown(ctx)
	m.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return m.serveErr
}

// Addr returns the bound address, useful when Config.Addr asked for port 0.
func (m *HTTPMode) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Handler returns the pprof handler tree.
func (m *HTTPMode) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(httpPrefix+"/", pprof.Index)
	mux.HandleFunc(httpPrefix+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(httpPrefix+"/profile", pprof.Profile)
	mux.HandleFunc(httpPrefix+"/symbol", pprof.Symbol)
	mux.HandleFunc(httpPrefix+"/trace", pprof.Trace)
	mux.HandleFunc(httpPrefix+"/status", m.handleStatus)
	mux.HandleFunc(httpPrefix+"/snapshot", m.handleSnapshot)
	return mux
}

func (m *HTTPMode) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.collector.Status())
}

func (m *HTTPMode) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.collector.Config().OutputDir == "" {
		http.Error(w, "no output directory configured", http.StatusConflict)
		return
	}

	paths, err := m.collector.SnapshotAll()
	resp := map[string]interface{}{"files": paths}
	status := http.StatusOK
	if err != nil {
		resp["error"] = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
