package httpd2

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerForwardsAndCopiesBody(t *testing.T) {
	opt := Options{
		Forward: func(ctx context.Context, req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"X-Upstream": []string{"yes"}},
				Body:       io.NopCloser(bytes.NewBufferString("payload")),
			}, nil
		},
	}

	h := Handler(opt)
	req := httptest.NewRequest(http.MethodGet, "/path", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if rec.Body.String() != "payload" {
		t.Fatalf("got body %q, want payload", rec.Body.String())
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatalf("expected upstream header to be copied through")
	}
}

func TestHandlerAdaptRequestFailureShortCircuits(t *testing.T) {
	called := false
	opt := Options{
		AdaptRequest: func(r *http.Request) error { return errAdapt },
		Forward: func(ctx context.Context, req *http.Request) (*http.Response, error) {
			called = true
			return nil, nil
		},
	}

	h := Handler(opt)
	req := httptest.NewRequest(http.MethodGet, "/path", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected Forward not to be called when adaptation fails")
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestHandlerRetriesIdempotentForwardOnce(t *testing.T) {
	attempts := 0
	opt := Options{
		Forward: func(ctx context.Context, req *http.Request) (*http.Response, error) {
			attempts++
			if attempts == 1 {
				return nil, errForward
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{},
				Body:       io.NopCloser(bytes.NewBufferString("ok")),
			}, nil
		},
	}

	h := Handler(opt)
	req := httptest.NewRequest(http.MethodGet, "/path", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if attempts != 2 {
		t.Fatalf("expected exactly one retry (2 attempts), got %d", attempts)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 after retry", rec.Code)
	}
}

func TestHandlerDoesNotRetryNonIdempotentForward(t *testing.T) {
	attempts := 0
	opt := Options{
		Forward: func(ctx context.Context, req *http.Request) (*http.Response, error) {
			attempts++
			return nil, errForward
		},
	}

	h := Handler(opt)
	req := httptest.NewRequest(http.MethodPost, "/path", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if attempts != 1 {
		t.Fatalf("expected no retry for POST (1 attempt), got %d", attempts)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d", rec.Code)
	}
}

type forwardErr struct{}

func (forwardErr) Error() string { return "forward failed" }

var errForward = forwardErr{}

type adaptErr struct{}

func (adaptErr) Error() string { return "adapt failed" }

var errAdapt = adaptErr{}
