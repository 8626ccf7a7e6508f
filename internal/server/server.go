// internal/server/server.go
package server

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/forensiq/forensiq/internal/config"
	"github.com/forensiq/forensiq/internal/monitor"
	"github.com/forensiq/forensiq/internal/pattern"
	"github.com/forensiq/forensiq/internal/store"
)

// Server exposes the analysis pipeline over HTTP
type Server struct {
	cfg    config.ServerConfig
	server *http.Server
}

// New wires the handlers onto a mux. TLS is used when a cert/key pair
// is configured; otherwise the server listens in plaintext.
func New(cfg config.ServerConfig, analyzer monitor.Analyzer, learner *pattern.Learner, db *store.DB) *Server {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/analyze", NewAnalyzeHandler(analyzer, learner, db, cfg.APIKey, cfg.MaxPayloadBytes))
	mux.Handle("/api/v1/reports", NewReportsHandler(db, cfg.APIKey))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Run serves until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	log.Printf("Analysis server starting on %s", s.cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			var cert tls.Certificate
			cert, err = tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
			if err == nil {
				s.server.TLSConfig = &tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				}
				err = s.server.ListenAndServeTLS("", "")
			}
		} else {
			err = s.server.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("Analysis server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// RunAndGetAddr binds the listener, serves in the background until ctx
// is canceled, and returns the bound address. Lets tests use an
// auto-assigned port. Plaintext only.
func (s *Server) RunAndGetAddr(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return "", err
	}

	go s.server.Serve(ln)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return ln.Addr().String(), nil
}
