// Package api hosts the HTTP handlers that front the kid-stream ingress
// provisioning core.
//
// IngressAPI coordinates StagePool, session.Manager, and store.Repository
// to implement the startWhip/stopWhip/status/createSession/getPlayback/
// getVods contract. Request decoding, response shaping, and error-kind to
// status-code translation live here; bearer-token parsing and caller
// identity resolution are internal/server's concern — handlers read the
// caller id already attached to the request context.
package api
