package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// TLSConfig defines certificate and key paths for enabling TLS listeners.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config controls the HTTP server runtime behaviour.
type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	Ready           chan<- struct{}

	// Logger, if set, receives lifecycle events (listener up, shutdown
	// initiated, shutdown outcome). Nil disables logging entirely so
	// callers that don't care about it pay nothing.
	Logger *slog.Logger
}

// DefaultShutdownTimeout bounds graceful shutdown when the context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Run starts the provided HTTP server and blocks until it stops. If TLS
// certificate and key files are provided, the server will listen with TLS.
// When the context is cancelled, Run attempts a graceful shutdown bounded by
// ShutdownTimeout.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return fmt.Errorf("server is required")
	}

	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("both TLS cert file and key file must be provided")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	listenConfig := cfg.Server
	ln, err := net.Listen("tcp", listenConfig.Addr)
	if err != nil {
		return err
	}

	var serve func(net.Listener) error
	if cfg.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}

		tlsCfg := cfg.Server.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		} else {
			tlsCfg = tlsCfg.Clone()
		}
		tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
		cfg.Server.TLSConfig = tlsCfg
		serve = cfg.Server.Serve
		ln = tls.NewListener(ln, tlsCfg)
	} else {
		serve = cfg.Server.Serve
	}

	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("http listener started", "addr", ln.Addr().String(), "tls", cfg.TLS.CertFile != "")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if cfg.Logger != nil {
			cfg.Logger.Error("http listener exited unexpectedly", "error", err)
		}
		return err
	case <-ctx.Done():
		if cfg.Logger != nil {
			cfg.Logger.Info("shutdown signal received, draining connections", "timeout", timeout)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := cfg.Server.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("serve returned an error during shutdown", "error", err)
			}
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("graceful shutdown timed out", "error", shutdownErr)
			}
			return shutdownErr
		}
		if cfg.Logger != nil {
			cfg.Logger.Warn("graceful shutdown deadline exceeded")
		}
		return shutdownCtx.Err()
	}

	if cfg.Logger != nil {
		if shutdownErr != nil {
			cfg.Logger.Warn("http listener stopped with an error", "error", shutdownErr)
		} else {
			cfg.Logger.Info("http listener stopped cleanly")
		}
	}
	return shutdownErr
}
