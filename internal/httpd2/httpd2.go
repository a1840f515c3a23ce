// Package httpd2 implements the HTTP/2 engine of spec §4.4: a thin
// multiplex adaptor around golang.org/x/net/http2, grounded on the
// teacher's httpcli/httpserver HTTP/2 wiring (httpcli/http.go,
// httpcli/network.go configure http2.Transport/http2.Server the same way).
package httpd2

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/nabbar/g3relay/internal/httpretry"
	"github.com/nabbar/g3relay/internal/protoerr"
)

// Options configures one HTTP/2 engine instance.
type Options struct {
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	YieldSize            int64
	IdleTimeout          time.Duration

	// Forward sends one adapted request to the upstream connection and
	// returns its response; the engine calls this per client stream,
	// mirroring the way the HTTP/1 engine's Options.Connector hands a
	// single forwarding decision to the caller instead of owning transport
	// construction itself.
	Forward func(ctx context.Context, req *http.Request) (*http.Response, error)

	// AdaptRequest runs ICAP REQMOD before the stream is sent upstream and
	// AdaptResponse runs RESPMOD on the upstream response (spec §4.4); a nil
	// hook disables that adaptation.
	AdaptRequest  func(*http.Request) error
	AdaptResponse func(*http.Response) error
}

// ServerConfig builds the http2.Server settings for the client-facing
// connection: push disabled, concurrency and window sized per spec §4.4.
func ServerConfig(opt Options) *http2.Server {
	s := &http2.Server{
		MaxConcurrentStreams: nonZero32(opt.MaxConcurrentStreams, 250),
		MaxReadFrameSize:     1 << 20,
	}
	if opt.InitialWindowSize > 0 && opt.InitialWindowSize < 1<<31 {
		s.MaxUploadBufferPerStream = int32(opt.InitialWindowSize)
	}
	return s
}

// TransportConfig builds the http2.Transport used for the upstream-facing
// connection. The Transport keeps its default settings: opt is not
// consulted, and the client-advertised settings are neither mirrored nor
// clamped.
func TransportConfig(opt Options) *http2.Transport {
	return &http2.Transport{
		AllowHTTP:          false,
		DisableCompression: false,
	}
}

// Handler returns an http.Handler suitable for http2.Server.ServeConn: it
// forwards each incoming stream to the upstream, running the ICAP
// REQMOD/RESPMOD hooks first (spec §4.4: "ICAP REQMOD/RESPMOD is invoked
// before stream send; adapted headers replace the originals"), and copies
// the body through in opt.YieldSize chunks so the HTTP/2 flow-control
// window provides natural backpressure (spec §4.4, §5 yield_size).
func Handler(opt Options) http.Handler {
	yield := opt.YieldSize
	if yield <= 0 {
		yield = 1 << 16
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opt.AdaptRequest != nil {
			if err := opt.AdaptRequest(r); err != nil {
				w.WriteHeader(protoerr.HTTPStatusOf(err))
				return
			}
		}

		resp, err := opt.Forward(r.Context(), r)
		if err != nil && httpretry.Eligible(r.Method, false) {
			// spec.md §9 Open Question (a): idempotent methods carry no body
			// (see httpd1's methodHasBody), so no request byte has been sent
			// beyond the headers already implied by the stream open itself.
			resp, err = opt.Forward(r.Context(), r)
		}
		if err != nil {
			w.WriteHeader(protoerr.HTTPStatusOf(err))
			return
		}
		defer resp.Body.Close()

		if opt.AdaptResponse != nil {
			if err := opt.AdaptResponse(resp); err != nil {
				w.WriteHeader(protoerr.HTTPStatusOf(err))
				return
			}
		}

		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)

		buf := make([]byte, yield)
		_, _ = io.CopyBuffer(w, resp.Body, buf)

		for k, vs := range resp.Trailer {
			for _, v := range vs {
				w.Header().Add(http.TrailerPrefix+k, v)
			}
		}
	})
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func nonZero32(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}
