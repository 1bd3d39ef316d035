// Package server wires the ingress provisioning core's HTTP surface behind
// a single multiplexer.
//
// It builds a consistent middleware chain of request-id tagging, structured
// logging, metrics, rate limiting, security headers, CORS, and caller
// authentication so api.IngressAPI's handlers all share common protections
// and instrumentation.
package server
