package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"kidstream-ingress/internal/api"
)

// CallerAuthenticator resolves the opaque bearer token on an incoming
// request to a caller user id. Parsing the Authorization header and
// validating the token is this package's concern, per spec.md §6 ("the
// collaborator resolves to a caller user id") — internal/api never sees
// the raw header.
type CallerAuthenticator interface {
	Authenticate(token string) (callerUserID string, err error)
}

// JWTAuthenticator treats the bearer token as an HS256 JWT minted by the
// upstream identity provider fronting this control plane, extracting the
// subject claim as the caller user id. This reuses golang-jwt/jwt/v5, the
// same library internal/credentials uses for ES384 playback tokens, rather
// than introducing a second JWT library for the inbound side.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator constructs a JWTAuthenticator over a shared HMAC
// secret.
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

func (a *JWTAuthenticator) Authenticate(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid bearer token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("bearer token missing subject claim")
	}
	return claims.Subject, nil
}

// extractBearerToken returns the token carried by an
// "Authorization: Bearer <opaque>" header, or "" if absent/malformed.
func extractBearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// authMiddleware resolves the caller identity for every request and
// attaches it to the context via api.ContextWithCaller. Requests without a
// bearer token, or with one that fails to authenticate, proceed
// unauthenticated: handlers that require a caller (everything except
// status()) reject those themselves with 401, matching status()'s
// unauthenticated-access allowance in spec.md §4.4.
func authMiddleware(authenticator CallerAuthenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}
		token := extractBearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		callerID, err := authenticator.Authenticate(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := api.ContextWithCaller(r.Context(), callerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
