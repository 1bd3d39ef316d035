package api

import "context"

type contextKey string

const callerContextKey contextKey = "callerUserId"

// ContextWithCaller stores the resolved caller user id in the context. The
// HTTP collaborator (internal/server) calls this after validating the
// Authorization: Bearer token; handlers in this package never parse the
// header themselves.
func ContextWithCaller(ctx context.Context, callerUserID string) context.Context {
	return context.WithValue(ctx, callerContextKey, callerUserID)
}

// CallerFromContext retrieves the caller user id attached by the HTTP
// collaborator, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerContextKey).(string)
	return id, ok && id != ""
}

func requireCaller(ctx context.Context) (string, error) {
	id, ok := CallerFromContext(ctx)
	if !ok {
		return "", UnauthenticatedError("authentication required")
	}
	return id, nil
}
