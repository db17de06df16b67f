// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/logging"
)

// Server runs the HTTP API with graceful shutdown.
type Server struct {
	srv  *http.Server
	addr string
}

// NewServer builds the HTTP server around the routing tree.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			WriteTimeout:      cfg.Timeout,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Serve runs the server until context cancellation, then drains
// in-flight requests. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP API listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP shutdown incomplete, closing")
		_ = s.srv.Close()
	}
	<-errCh
	return ctx.Err()
}

func (s *Server) String() string { return "http-server" }
