// Package engine, continued: C9 is the lifecycle supervisor for the
// listening proxy server: Start/Stop/Restart/Pause/Resume, grounded on
// the teacher's main() signal-driven shutdown (src/main.go) generalized
// into a reusable method set, plus the original's migrate_from history
// carry-over across restarts.
package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"

	"github.com/ezshark/ezshark-go/internal/certauthority"
	"github.com/ezshark/ezshark-go/internal/logging"
	"github.com/ezshark/ezshark-go/internal/txstore"
)

// gracefulStopTimeout bounds how long Stop waits for in-flight
// connections to finish before closing them.
const gracefulStopTimeout = 5 * time.Second

// Supervisor is C9: it owns the currently bound listener (if any), its
// goproxy handler, and the transaction store's lifecycle across
// restarts.
type Supervisor struct {
	mu       sync.Mutex
	CA       *certauthority.CA
	Pipeline *Pipeline
	Logger   *logging.Logger

	srv      *http.Server
	ln       net.Listener
	port     int
	paused   bool
	pausedAt *txstore.Store
}

// NewSupervisor builds a Supervisor around an already-wired Pipeline.
func NewSupervisor(ca *certauthority.CA, pipeline *Pipeline, logger *logging.Logger) *Supervisor {
	return &Supervisor{CA: ca, Pipeline: pipeline, Logger: logger}
}

// Start binds the supervisor to port on loopback and begins serving.
// It is an error to Start an already-running supervisor.
func (s *Supervisor) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return fmt.Errorf("supervisor: already running on port %d", s.port)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("supervisor: listen: %w", err)
	}

	conn := NewConnHandler(s.CA, s.Pipeline, s.Logger)
	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	proxy.OnRequest().HandleConnect(conn.HTTPSHandler())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodConnect {
			proxy.ServeHTTP(w, r)
			return
		}
		s.Pipeline.Handle(w, r)
	})

	srv := &http.Server{Handler: handler}
	s.srv = srv
	s.ln = ln
	s.port = port

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if s.Logger != nil {
				s.Logger.Errorf("supervisor: serve on %d: %v", port, err)
			}
		}
	}()
	if s.Logger != nil {
		s.Logger.Infof("listening on 127.0.0.1:%d", port)
	}
	return nil
}

// Stop closes the listener and waits up to gracefulStopTimeout for
// in-flight connections to drain; connections still open after that
// are closed. Hijacked CONNECT tunnels are not tracked by the server,
// so Stop neither waits for nor closes them.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}

	s.mu.Lock()
	s.srv = nil
	s.ln = nil
	s.port = 0
	s.mu.Unlock()
	return err
}

// Restart stops the current listener (if any) and starts a fresh one
// on newPort, migrating the prior transaction store's history into a
// freshly created one so restart preserves prior traffic, mirroring
// the original's migrate_from.
func (s *Supervisor) Restart(newPort int) error {
	if err := s.Stop(); err != nil {
		return err
	}

	prior := s.Pipeline.Store()
	fresh := txstore.New(txstore.DefaultCapacity)
	fresh.MigrateFrom(prior)
	s.Pipeline.SetStore(fresh)

	return s.Start(newPort)
}

// Pause suspends recording and preserves the current store as a
// snapshot the next Resume will seed from, without tearing down the
// listener: traffic keeps flowing, just unmonitored.
func (s *Supervisor) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.pausedAt = s.Pipeline.Store()
	s.Pipeline.SetMonitorSession("")
}

// Resume re-enables recording under sessionID, seeding a fresh store
// from the snapshot taken at Pause so history survives the pause.
func (s *Supervisor) Resume(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.Pipeline.SetMonitorSession(sessionID)
		return
	}
	fresh := txstore.New(txstore.DefaultCapacity)
	if s.pausedAt != nil {
		fresh.MigrateFrom(s.pausedAt)
	}
	s.Pipeline.SetStore(fresh)
	s.paused = false
	s.pausedAt = nil
	s.Pipeline.SetMonitorSession(sessionID)
}

// Port returns the currently bound port, or 0 if not running.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}
