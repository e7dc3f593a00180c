// Package server exposes the dashboard HTTP API: case listings, job
// control, hydrated document review, and the SSE event stream.
package server

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/engine"
)

// Server is the HTTP front end over one engine instance.
type Server struct {
	addr        string
	engine      *engine.Engine
	broadcaster *Broadcaster
	baseCtx     context.Context
	cancel      context.CancelFunc
	httpSrv     *http.Server
}

// New wires the server to the engine. The engine's event sink is installed
// here; call New before engine.Start so no events are lost.
func New(addr string, eng *engine.Engine) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:        addr,
		engine:      eng,
		broadcaster: NewBroadcaster(),
		baseCtx:     ctx,
		cancel:      cancel,
	}
	eng.SetSink(s.broadcaster.Send)

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/cases", s.handleListCases)
	mux.HandleFunc("GET /api/cases/{id}", s.handleGetCase)
	mux.HandleFunc("POST /api/cases/{id}/process", s.handleProcess)
	mux.HandleFunc("POST /api/cases/{id}/render", s.handleRender)
	mux.HandleFunc("POST /api/cases/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/cases/{id}/hydrated", s.handleGetHydrated)
	mux.HandleFunc("PUT /api/cases/{id}/hydrated", s.handlePutHydrated)
	mux.HandleFunc("GET /api/cases/{id}/manifest", s.handleGetManifest)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.HandlerFor(eng.MetricsGatherer(), promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		s.Shutdown()
	}()

	log.WithField("addr", s.addr).Info("dashboard listening")
	s.httpSrv.Addr = s.addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown cancels running jobs, drains HTTP connections, and closes the
// event stream.
func (s *Server) Shutdown() {
	s.engine.Close()
	s.broadcaster.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}

// csrfProtect rejects cross-origin mutating requests. Browsers set the
// Origin header on cross-origin requests, so checking it blocks CSRF from
// malicious web pages while allowing CLI/programmatic callers (which either
// omit Origin or set it to match the server).
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				// Allow only localhost-family origins.
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
