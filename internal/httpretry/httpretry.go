// Package httpretry holds the single idempotent-retry policy shared by the
// HTTP/1 and HTTP/2 engines (SPEC_FULL.md §13a, resolving spec.md §9 Open
// Question (a)): retry exactly once, only for GET/HEAD/OPTIONS/TRACE, and
// only when the failure happened before any response byte was read and
// before any request body byte was sent upstream.
package httpretry

import "net/http"

// IsIdempotent reports whether method is retry-eligible under the policy.
func IsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// Eligible reports whether a failed forward attempt may be retried once:
// the method must be idempotent and no request body byte may have been
// written upstream yet. Callers gate on their own "no response byte read"
// condition by only calling Eligible from the branch that precedes any
// response write.
func Eligible(method string, bodyStarted bool) bool {
	return !bodyStarted && IsIdempotent(method)
}
