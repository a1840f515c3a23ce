// Package framing implements the line-oriented receive buffer and
// length-delimited helpers shared by the HTTP/1, IMAP and Thrift-multiplex
// engines (spec §2 "Framing buffers"), generalized from the teacher's
// ioutils/delim line reader to add the size caps spec §6 names
// (http_header_max_size, body_line_max_size, trailer_max_size).
package framing

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/nabbar/g3relay/internal/protoerr"
)

// LineReader wraps a bufio.Reader to read CRLF-terminated protocol lines
// (HTTP/1 request/status lines and headers, IMAP tagged command lines)
// while enforcing a maximum line length, per spec §6's *_max_size options.
type LineReader struct {
	br      *bufio.Reader
	maxLine int64
}

// NewLineReader wraps r with a size cap of maxLine bytes per line; maxLine
// <= 0 disables the cap.
func NewLineReader(r io.Reader, maxLine int64) *LineReader {
	return &LineReader{br: bufio.NewReaderSize(r, 4096), maxLine: maxLine}
}

// ReadLine returns one line without its trailing CR/LF. ResourceExhausted
// is returned if the line grows past maxLine before a terminator is found.
func (l *LineReader) ReadLine() ([]byte, error) {
	var out []byte
	for {
		chunk, err := l.br.ReadSlice('\n')
		if len(chunk) > 0 {
			out = append(out, chunk...)
		}
		if l.maxLine > 0 && int64(len(out)) > l.maxLine {
			return nil, protoerr.ResourceExhausted.Error(nil)
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return out, err
	}
	return trimCRLF(out), nil
}

func trimCRLF(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return b[:n]
}

// Peek returns the next n bytes without consuming them, for the protocol
// sniffer's first-bytes classification (spec §4.1). When the stream is
// shorter than requested it returns the fewer bytes available with a nil
// error; the underlying error (typically io.EOF) is returned only when no
// byte is available.
func (l *LineReader) Peek(n int) ([]byte, error) {
	b, err := l.br.Peek(n)
	if err != nil && len(b) == 0 {
		return nil, err
	}
	return b, nil
}

// Read implements io.Reader, consuming from the same buffered reader used
// by ReadLine/Peek so no bytes are lost between header and body phases.
func (l *LineReader) Read(p []byte) (int, error) {
	return l.br.Read(p)
}

// Buffered reports the number of bytes currently buffered and unconsumed.
func (l *LineReader) Buffered() int {
	return l.br.Buffered()
}

// PutUint32 and GetUint32 implement the 4-byte big-endian length prefix
// used by the Thrift-over-TCP framing header (spec §4.6).
func PutUint32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }

func GetUint32(buf []byte) uint32 { return binary.BigEndian.Uint32(buf) }
