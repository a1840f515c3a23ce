// Package httpbody implements the size-limited HTTP body decoder shared by
// the HTTP/1 and HTTP/2 engines (spec §4.3), grounded on the g3 original's
// single sum-type shape (original_source lib/g3-http/src/body/decoder.rs,
// see SPEC_FULL.md §12): one decoder covers Content-Length, chunked
// transfer-encoding, and read-until-EOF bodies behind a single
// Read/Finished/Trailer surface instead of three unrelated readers.
package httpbody

import (
	"bufio"
	"io"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/nabbar/g3relay/internal/protoerr"
)

// Kind names which of the three body shapes a Decoder was built for.
type Kind int

const (
	// KindFixedLength decodes exactly N bytes (Content-Length: N).
	KindFixedLength Kind = iota
	// KindChunked decodes RFC 7230 chunked transfer-encoding.
	KindChunked
	// KindUntilEOF decodes a body terminated only by connection close,
	// used for HTTP/1.0-style responses with neither header present.
	KindUntilEOF
)

// Decoder is the single body-reading state machine for spec §4.3's three
// encodings. Construct with NewFixedLength/NewChunked/NewUntilEOF.
type Decoder struct {
	kind Kind
	br   *bufio.Reader

	remaining   int64 // KindFixedLength
	chunkLeft   int64 // KindChunked: bytes left in the current chunk
	sawLastSize bool  // KindChunked: saw the terminal 0-size chunk

	trailerMaxSize int64
	trailer        http.Header

	finished bool
}

// NewFixedLength builds a decoder for an exact Content-Length body.
func NewFixedLength(r io.Reader, n int64) *Decoder {
	return &Decoder{kind: KindFixedLength, br: bufio.NewReader(r), remaining: n, finished: n == 0}
}

// NewChunked builds a decoder for a chunked-transfer body; trailerMaxSize
// caps the combined size of trailer header lines (spec §6 trailer_max_size).
func NewChunked(r io.Reader, trailerMaxSize int64) *Decoder {
	return &Decoder{kind: KindChunked, br: bufio.NewReader(r), trailerMaxSize: trailerMaxSize}
}

// NewUntilEOF builds a decoder that reads until the underlying connection
// is closed.
func NewUntilEOF(r io.Reader) *Decoder {
	return &Decoder{kind: KindUntilEOF, br: bufio.NewReader(r)}
}

// Read implements io.Reader. On KindFixedLength, an EOF before the declared
// length is reached is reported as UpstreamProtocolError (spec §4.3: "EOF
// before N ⇒ fail").
func (d *Decoder) Read(p []byte) (int, error) {
	if d.finished {
		return 0, io.EOF
	}

	switch d.kind {
	case KindFixedLength:
		return d.readFixed(p)
	case KindChunked:
		return d.readChunked(p)
	default:
		return d.readUntilEOF(p)
	}
}

func (d *Decoder) readFixed(p []byte) (int, error) {
	if int64(len(p)) > d.remaining {
		p = p[:d.remaining]
	}
	n, err := d.br.Read(p)
	d.remaining -= int64(n)
	if d.remaining == 0 {
		d.finished = true
		if err == io.EOF {
			err = nil
		}
	} else if err == io.EOF {
		err = protoerr.UpstreamProtocolError.Error(io.ErrUnexpectedEOF)
	}
	return n, err
}

func (d *Decoder) readUntilEOF(p []byte) (int, error) {
	n, err := d.br.Read(p)
	if err == io.EOF {
		d.finished = true
	}
	return n, err
}

func (d *Decoder) readChunked(p []byte) (int, error) {
	if d.chunkLeft == 0 && !d.sawLastSize {
		if err := d.readChunkHeader(); err != nil {
			return 0, err
		}
	}

	if d.sawLastSize {
		if err := d.readTrailer(); err != nil {
			return 0, err
		}
		d.finished = true
		return 0, io.EOF
	}

	if int64(len(p)) > d.chunkLeft {
		p = p[:d.chunkLeft]
	}
	n, err := d.br.Read(p)
	d.chunkLeft -= int64(n)
	if d.chunkLeft == 0 && err == nil {
		// consume the trailing CRLF after the chunk data.
		if _, e := d.br.Discard(2); e != nil {
			err = protoerr.UpstreamProtocolError.Error(e)
		}
	}
	if err == io.EOF {
		err = protoerr.UpstreamProtocolError.Error(io.ErrUnexpectedEOF)
	}
	return n, err
}

// readChunkHeader parses a "<hex-size>[;ext]\r\n" chunk-size line. An
// overflowing size (per spec §8's boundary behavior) fails with
// ResourceExhausted rather than wrapping.
func (d *Decoder) readChunkHeader() error {
	line, err := d.br.ReadString('\n')
	if err != nil {
		return protoerr.UpstreamProtocolError.Error(err)
	}
	line = trimCRLF(line)
	if i := indexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseUint(line, 16, 63)
	if err != nil {
		return protoerr.ResourceExhausted.Error(err)
	}
	if size == 0 {
		d.sawLastSize = true
		return nil
	}
	d.chunkLeft = int64(size)
	return nil
}

func (d *Decoder) readTrailer() error {
	tp := textproto.NewReader(d.br)
	var total int64
	hdr := make(http.Header)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return protoerr.UpstreamProtocolError.Error(err)
		}
		if line == "" {
			break
		}
		total += int64(len(line))
		if d.trailerMaxSize > 0 && total > d.trailerMaxSize {
			return protoerr.ResourceExhausted.Error(nil)
		}
		if i := indexByte(line, ':'); i > 0 {
			k := textproto.TrimString(line[:i])
			v := textproto.TrimString(line[i+1:])
			hdr.Add(k, v)
		}
	}
	d.trailer = hdr
	return nil
}

// Finished reports whether the body has been fully consumed.
func (d *Decoder) Finished() bool { return d.finished }

// Trailer returns the trailer headers parsed after a chunked body; nil for
// the other two kinds or before the body finishes.
func (d *Decoder) Trailer() http.Header { return d.trailer }

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Encoder writes a chunked-transfer body, used when the engine must
// re-chunk a body it read with KindFixedLength/KindUntilEOF (e.g. an ICAP
// adaptation changed the length) or when relaying a chunked body verbatim.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for chunked-transfer writes.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// WriteChunk writes one chunk; an empty p writes nothing (use Final to
// terminate the body).
func (e *Encoder) WriteChunk(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := io.WriteString(e.w, strconv.FormatInt(int64(len(p)), 16)+"\r\n"); err != nil {
		return err
	}
	if _, err := e.w.Write(p); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, "\r\n")
	return err
}

// Final writes the terminal zero-size chunk plus trailer headers (possibly
// none) and the body-ending blank line.
func (e *Encoder) Final(trailer http.Header) error {
	if _, err := io.WriteString(e.w, "0\r\n"); err != nil {
		return err
	}
	for k, vs := range trailer {
		for _, v := range vs {
			if _, err := io.WriteString(e.w, k+": "+v+"\r\n"); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(e.w, "\r\n")
	return err
}
