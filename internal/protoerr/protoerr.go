// Package protoerr defines the closed set of Error Kinds shared by every
// inspection engine, built on top of the nabbar-golib errors package so a
// protocol failure carries a stable CodeError alongside its Go error chain.
package protoerr

import (
	"net/http"

	liberr "github.com/nabbar/g3relay/errors"
)

const (
	// ClientProtocolError: malformed input from the client.
	ClientProtocolError liberr.CodeError = iota + liberr.MinPkgIOUtils + 2000
	// UpstreamProtocolError: malformed input from the upstream.
	UpstreamProtocolError
	// ConnectTimeout: upstream connect deadline exceeded.
	ConnectTimeout
	// HandshakeTimeout: TLS/protocol handshake deadline exceeded.
	HandshakeTimeout
	// IdleTimeout: idle watchdog threshold reached.
	IdleTimeout
	// RequestTimeout: a single request exceeded its deadline.
	RequestTimeout
	// ResourceExhausted: header/body/literal larger than the configured cap.
	ResourceExhausted
	// InternalAdapterError: ICAP failure with bypass disabled.
	InternalAdapterError
	// ForbiddenByRule: policy denial (ACL/rate/quota).
	ForbiddenByRule
	// EscaperNotUsable: next-hop selection failed.
	EscaperNotUsable
	// PeerShutdown: a normal half-close, converted to a graceful close.
	PeerShutdown
)

func init() {
	liberr.RegisterIdFctMessage(ClientProtocolError, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ClientProtocolError:
		return "malformed input from client"
	case UpstreamProtocolError:
		return "malformed input from upstream"
	case ConnectTimeout:
		return "upstream connect timeout"
	case HandshakeTimeout:
		return "handshake timeout"
	case IdleTimeout:
		return "idle timeout"
	case RequestTimeout:
		return "request timeout"
	case ResourceExhausted:
		return "resource exhausted"
	case InternalAdapterError:
		return "internal adapter error"
	case ForbiddenByRule:
		return "forbidden by rule"
	case EscaperNotUsable:
		return "escaper not usable"
	case PeerShutdown:
		return "peer shutdown"
	}
	return ""
}

// HTTPStatusOf projects an arbitrary error onto an HTTP status, unwrapping
// it to a protoerr CodeError when possible (liberr.Error) and falling back
// to 500 for anything else (e.g. a plain io error that was never classified).
func HTTPStatusOf(err error) int {
	if e, ok := err.(liberr.Error); ok {
		return HTTPStatus(e.GetCode())
	}
	return 500
}

// HTTPStatus projects an Error Kind onto the HTTP/1 and HTTP/2 engines'
// terminal-response path, per spec §4.3's error taxonomy.
func HTTPStatus(code liberr.CodeError) int {
	switch code {
	case ClientProtocolError:
		return http.StatusBadRequest
	case UpstreamProtocolError:
		return http.StatusBadGateway
	case ConnectTimeout, HandshakeTimeout:
		return http.StatusGatewayTimeout
	case IdleTimeout, RequestTimeout:
		return http.StatusRequestTimeout
	case ResourceExhausted:
		return http.StatusRequestEntityTooLarge
	case InternalAdapterError:
		return http.StatusBadGateway
	case ForbiddenByRule:
		return http.StatusForbidden
	case EscaperNotUsable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IMAPTag projects an Error Kind onto a synthesized tagged IMAP response,
// used whenever the engine must answer without reaching the upstream.
func IMAPTag(tag string, code liberr.CodeError) string {
	switch code {
	case ResourceExhausted:
		return tag + " BAD literal too large\r\n"
	case IdleTimeout, ConnectTimeout, HandshakeTimeout, RequestTimeout:
		return tag + " BAD timeout\r\n"
	case ForbiddenByRule:
		return tag + " NO forbidden\r\n"
	default:
		return tag + " BAD protocol error\r\n"
	}
}
