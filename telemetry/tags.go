// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

// requestTagsKey is the context key for the request tags holder.
const requestTagsKey contextKey = "request_tags"

// Backend identifies which component produced the response.
type Backend string

const (
	BackendStatic   Backend = "static"
	BackendProxy    Backend = "proxy"
	BackendInternal Backend = "internal"
)

// RequestTags holds mutable request metadata that handlers can set for
// logging and metrics. Middleware injects an empty holder; the router and
// the dispatched handler fill it in as the request progresses.
type RequestTags struct {
	Route   string
	Backend Backend
	Outcome string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, &RequestTags{}))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetRoute records the name of the matched route rule.
func SetRoute(r *http.Request, route string) {
	if tags := GetTags(r); tags != nil {
		tags.Route = route
	}
}

// SetBackend records which backend handled the request.
func SetBackend(r *http.Request, backend Backend) {
	if tags := GetTags(r); tags != nil {
		tags.Backend = backend
	}
}

// SetOutcome records the handler outcome (ok, not_found, upstream_timeout, ...).
func SetOutcome(r *http.Request, outcome string) {
	if tags := GetTags(r); tags != nil {
		tags.Outcome = outcome
	}
}
