package httpretry

import (
	"net/http"
	"testing"
)

func TestIsIdempotent(t *testing.T) {
	idempotent := []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace}
	for _, m := range idempotent {
		if !IsIdempotent(m) {
			t.Errorf("%s should be idempotent", m)
		}
	}

	notIdempotent := []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	for _, m := range notIdempotent {
		if IsIdempotent(m) {
			t.Errorf("%s should not be idempotent", m)
		}
	}
}

func TestEligible(t *testing.T) {
	if !Eligible(http.MethodGet, false) {
		t.Fatalf("GET with no body started should be retry-eligible")
	}
	if Eligible(http.MethodGet, true) {
		t.Fatalf("GET with body already started must not be retried")
	}
	if Eligible(http.MethodPost, false) {
		t.Fatalf("POST must never be retried under this policy")
	}
}
