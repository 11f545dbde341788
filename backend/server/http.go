package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"chunk-relay/backend/global"
)

// StartHTTPServer serves handler in the background. The caller stops it with
// Shutdown on the returned server.
func StartHTTPServer(host string, port int, handler http.Handler) (*http.Server, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen http %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			global.Logger.Error().Err(err).Str("addr", addr).Msg("http server stopped")
		}
	}()
	global.Logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return srv, nil
}
