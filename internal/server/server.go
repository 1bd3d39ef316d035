package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"kidstream-ingress/internal/api"
	"kidstream-ingress/internal/observability/logging"
	"kidstream-ingress/internal/observability/metrics"
)

// TLSConfig defines certificate files that enable TLS for the HTTP listener
// created by Server. When both CertFile and KeyFile are provided the server
// starts with TLS; otherwise it falls back to plain HTTP on Config.Addr.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config aggregates the dependencies and settings required to construct a
// Server.
type Config struct {
	Addr          string
	TLS           TLSConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Security      SecurityConfig
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	Authenticator CallerAuthenticator
}

// Server wraps the configured http.Server alongside observability, rate
// limiting, and TLS metadata derived from Config.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

// New wires the ingress API's HTTP routes, middleware chain, and
// instrumentation. It registers /streams/whip and /streams/children/ on a
// mux, plus /healthz and /metrics, and wraps them, innermost first, in rate
// limiting, auth (outside it, so the per-caller provisioning limit sees the
// resolved caller id), metrics, logging, then request-id/CORS/security
// headers at the edges.
func New(handler *api.IngressAPI, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/streams/whip", handler.Whip)
	mux.HandleFunc("/streams/children/", handler.ChildRoute)

	rl := newRateLimiter(cfg.RateLimit)
	corsPolicy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors: %w", err)
	}

	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(rl, cfg.Logger, handlerChain)
	handlerChain = authMiddleware(cfg.Authenticator, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger})(handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = corsMiddleware(corsPolicy, cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// HTTPServer exposes the underlying *http.Server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			api.WriteError(w, api.RequestError{Status: http.StatusTooManyRequests, CodeVal: "RATE_LIMITED", Message: "global rate limit exceeded"})
			return
		}
		if isProvisioningCall(r) {
			callerID, _ := api.CallerFromContext(r.Context())
			allowed, retryAfter, err := rl.AllowProvision(r.Context(), callerID)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err, "caller", callerID)
				}
				api.WriteError(w, api.RequestError{Status: http.StatusServiceUnavailable, CodeVal: "UPSTREAM_TRANSIENT", Message: "rate limit check failed"})
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				api.WriteError(w, api.RequestError{Status: http.StatusTooManyRequests, CodeVal: "RATE_LIMITED", Message: "too many provisioning requests"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isProvisioningCall(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	if r.URL.Path == "/streams/whip" {
		return true
	}
	return strings.HasSuffix(r.URL.Path, "/sessions") || strings.HasSuffix(r.URL.Path, "/ingest")
}
