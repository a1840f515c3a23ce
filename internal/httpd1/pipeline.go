package httpd1

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/nabbar/g3relay/internal/httpretry"
	"github.com/nabbar/g3relay/internal/protoerr"
	"github.com/nabbar/g3relay/internal/transit"
)

// Pipeline is the spec §3 HttpPipeline: an ordered, bounded sequence of
// in-flight requests, with at most pipeline_size entries outstanding.
type Pipeline struct {
	ch chan *Request
}

// NewPipeline builds a bounded pipeline of the configured size.
func NewPipeline(size int) *Pipeline {
	if size <= 0 {
		size = 16
	}
	return &Pipeline{ch: make(chan *Request, size)}
}

// Options configures one Engine run.
type Options struct {
	HeaderMaxSize  int64
	TrailerMaxSize int64

	// Connector dials (or reuses) the upstream connection for this client
	// connection; it is called once per ServeConn (spec's "strict
	// pipelining" keeps a single upstream connection per client connection),
	// and once more each time a failed idempotent request is retried on a
	// fresh upstream connection.
	Connector func(ctx context.Context) (net.Conn, error)

	// Adapt lets an ICAP adaptation rewrite the outgoing request headers
	// before it is forwarded (spec §4.9); nil disables adaptation.
	Adapt func(*Request) error
}

// ServeConn drives one client HTTP/1 connection end to end: a reader
// goroutine parses requests onto the bounded Pipeline; this goroutine (the
// writer task) pops each in turn, forwards it upstream, and copies the
// response back to the client in request order (spec §8: "responses arrive
// on client in order R1, R2 regardless of upstream response timing").
func ServeConn(ctx context.Context, client net.Conn, opt Options) error {
	p := NewPipeline(0)
	if opt.HeaderMaxSize == 0 {
		opt.HeaderMaxSize = 64 * 1024
	}

	clientBR := bufio.NewReader(client)

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- readLoop(clientBR, opt, p)
	}()

	upstream, err := opt.Connector(ctx)
	if err != nil {
		writeStatus(client, http.StatusBadGateway, "upstream connect failed")
		return protoerr.ConnectTimeout.Error(err)
	}
	defer upstream.Close()
	upBR := bufio.NewReader(upstream)

	for req := range p.ch {
		if req.IsConnect {
			if err := writeStatus(client, http.StatusOK, "Connection established"); err != nil {
				return err
			}
			_, terr := transit.Run(ctx, transit.Sides{
				ClientReader:   clientBR,
				ClientWriter:   client,
				UpstreamReader: upBR,
				UpstreamWriter: upstream,
			}, transit.Options{})
			return terr
		}

		if opt.Adapt != nil {
			if err := opt.Adapt(req); err != nil {
				writeStatus(client, protoerr.HTTPStatusOf(err), "adaptation failed")
				continue
			}
		}

		if err := forwardAndRelay(ctx, req, client, upstream, upBR, opt); err != nil {
			if retryErr, ok := retryableUpstreamErr(err, req); ok {
				upstream2, derr := opt.Connector(ctx)
				if derr == nil {
					upstream.Close()
					upstream = upstream2
					upBR = bufio.NewReader(upstream)
					err = forwardAndRelay(ctx, req, client, upstream, upBR, opt)
				} else {
					err = retryErr
				}
			}
			if err != nil {
				writeStatus(client, protoerr.HTTPStatusOf(err), "upstream error")
				return err
			}
		}
	}

	return <-readErrCh
}

func retryableUpstreamErr(err error, req *Request) (error, bool) {
	if !httpretry.Eligible(req.Method, req.BodyStarted) {
		return err, false
	}
	return err, true
}

// readLoop is the pipeline's reader task: parse requests and push them
// onto the bounded channel (spec §4.3).
func readLoop(br *bufio.Reader, opt Options, p *Pipeline) error {
	defer close(p.ch)
	for {
		req, err := readRequest(br, opt.HeaderMaxSize)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		attachBody(req, br, opt.TrailerMaxSize)
		p.ch <- req
		if req.IsConnect {
			return nil
		}
	}
}

// forwardAndRelay writes req to upstream and copies its response back to
// client. BodyStarted is set true the instant the first request body byte
// is written, gating SPEC_FULL §13a's retry policy.
func forwardAndRelay(ctx context.Context, req *Request, client net.Conn, upstream net.Conn, upBR *bufio.Reader, opt Options) error {
	if err := writeRequestLine(upstream, req); err != nil {
		return protoerr.UpstreamProtocolError.Error(err)
	}
	if req.Body != nil {
		req.BodyStarted = true
		if _, err := io.Copy(upstream, req.Body); err != nil {
			return protoerr.UpstreamProtocolError.Error(err)
		}
	}

	resp, err := http.ReadResponse(upBR, nil)
	if err != nil {
		return protoerr.UpstreamProtocolError.Error(err)
	}
	defer resp.Body.Close()

	// spec §4.3: "For 1xx informational responses the reader forwards and
	// continues to await the final response."
	for resp.StatusCode >= 100 && resp.StatusCode < 200 {
		if werr := resp.Write(client); werr != nil {
			return werr
		}
		resp, err = http.ReadResponse(upBR, nil)
		if err != nil {
			return protoerr.UpstreamProtocolError.Error(err)
		}
	}

	return resp.Write(client)
}

func writeRequestLine(w io.Writer, req *Request) error {
	if _, err := io.WriteString(w, req.Method+" "+req.Target+" "+req.Proto+"\r\n"); err != nil {
		return err
	}
	if err := req.Header.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func writeStatus(w io.Writer, code int, msg string) error {
	_, err := io.WriteString(w, "HTTP/1.1 "+strconv.Itoa(code)+" "+http.StatusText(code)+"\r\nContent-Length: 0\r\n\r\n")
	_ = msg
	return err
}
