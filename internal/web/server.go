package web

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	preview  *PreviewHub
}

// NewServer creates a server configured for the given address and dependencies.
// preview may be nil when the preview use case is disabled.
func NewServer(addr string, handlers *Handlers, preview *PreviewHub) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
		preview:  preview,
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /capture", s.handlers.HandleCapture)
	mux.HandleFunc("POST /lens/switch", s.handlers.HandleSwitchLens)
	mux.HandleFunc("POST /flash", s.handlers.HandleFlash)
	mux.HandleFunc("POST /timer", s.handlers.HandleTimer)
	mux.HandleFunc("POST /rotation", s.handlers.HandleRotation)
	mux.HandleFunc("POST /display", s.handlers.HandleDisplay)
	mux.HandleFunc("GET /state", s.handlers.HandleState)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	if s.preview != nil {
		mux.Handle("GET /preview", s.preview)
	}

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		if s.preview != nil {
			s.preview.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
