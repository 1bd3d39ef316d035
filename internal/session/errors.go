package session

import "errors"

// ErrForbidden is returned when the caller does not own/control the
// target child or parent relation.
var ErrForbidden = errors.New("session: forbidden")

// ErrNotFound is returned when a session or channel does not exist.
var ErrNotFound = errors.New("session: not found")

// ErrSessionAlreadyActive is returned by CreateSession when a live
// IN_PROGRESS session already exists and upstream confirms it is active.
var ErrSessionAlreadyActive = errors.New("session: already active")
