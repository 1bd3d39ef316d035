package session

import "context"

// ChildAuthorizer resolves whether callerUserID owns childID and whether
// that child currently has streaming enabled. Ownership/relation storage is
// the HTTP collaborator's concern; the session manager only consumes the
// verdict.
type ChildAuthorizer interface {
	OwnsChild(ctx context.Context, callerUserID, childID string) (streamingEnabled bool, owns bool, err error)
}

// ParentAuthorizer resolves whether parentUserID has a canWatch relation to
// childID.
type ParentAuthorizer interface {
	CanWatch(ctx context.Context, parentUserID, childID string) (bool, error)
}
