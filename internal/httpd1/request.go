// Package httpd1 implements the HTTP/1 engine of spec §4.3: request/
// response parsing, strict-order pipelining, CONNECT tunneling, and the
// three-shape body decode of internal/httpbody. Grounded on the teacher's
// httpserver request-handling shape (httpserver/*), generalized from a
// terminating HTTP server into a forwarding proxy engine.
package httpd1

import (
	"bufio"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/nabbar/g3relay/internal/httpbody"
	"github.com/nabbar/g3relay/internal/protoerr"
)

// Request is one parsed HTTP/1 request awaiting forwarding.
type Request struct {
	Method  string
	Target  string
	Proto   string
	Header  http.Header
	Body    io.Reader // nil for CONNECT and bodyless methods
	IsConnect bool

	// BodyStarted is set by the writer task once the first body byte has
	// been forwarded upstream, gating the retry-once policy (SPEC_FULL §13a).
	BodyStarted bool
}

// readRequest parses one request line + headers from br, enforcing
// headerMaxSize (spec §6 http_header_max_size). The body is NOT consumed
// here; callers attach a httpbody.Decoder using Request.Header afterward.
func readRequest(br *bufio.Reader, headerMaxSize int64) (*Request, error) {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, classifyReadErr(err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, protoerr.ClientProtocolError.Error(nil)
	}

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, protoerr.ClientProtocolError.Error(err)
	}
	hdr := http.Header(mimeHeader)

	if headerMaxSize > 0 {
		var total int64
		for k, vs := range hdr {
			total += int64(len(k))
			for _, v := range vs {
				total += int64(len(v))
			}
		}
		if total > headerMaxSize {
			return nil, protoerr.ResourceExhausted.Error(nil)
		}
	}

	req := &Request{
		Method:    parts[0],
		Target:    parts[1],
		Proto:     parts[2],
		Header:    hdr,
		IsConnect: parts[0] == http.MethodConnect,
	}
	return req, nil
}

// attachBody selects the body decoder shape per spec §4.3 and wires it
// onto req.Body; trailerMaxSize bounds chunked trailers (§6).
func attachBody(req *Request, br *bufio.Reader, trailerMaxSize int64) {
	if req.IsConnect || !methodHasBody(req.Method) {
		return
	}

	if te := req.Header.Get("Transfer-Encoding"); strings.EqualFold(te, "chunked") {
		req.Body = httpbody.NewChunked(br, trailerMaxSize)
		return
	}

	if cl := req.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 63)
		if err == nil && n > 0 {
			req.Body = httpbody.NewFixedLength(br, n)
		}
		return
	}
}

// methodHasBody reports whether a request method conventionally carries a
// body worth decoding (a client may still send Content-Length:0 on a GET,
// which attachBody's n>0 check already skips).
func methodHasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace, http.MethodConnect:
		return false
	default:
		return true
	}
}

func classifyReadErr(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return protoerr.ClientProtocolError.Error(err)
}
