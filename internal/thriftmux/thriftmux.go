// Package thriftmux implements the Thrift-over-TCP multiplex of spec §4.6:
// many logical requests share one transport, correlated by sequence id.
// Grounded on the teacher's ioutils/multiplexer shape (ioutils/multiplexer/
// model.go) for the single-mutex shared-state pattern, generalized from a
// byte-stream multiplexer into a seq-id response-table arena, matching the
// design note in spec §9 ("prefer a single mutex covering the small map
// over sharded locks given typical fan-out").
package thriftmux

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/nabbar/g3relay/internal/framing"
	"github.com/nabbar/g3relay/internal/protoerr"
)

// Request is one client-originated frame awaiting a response.
type Request struct {
	SeqID   uint32
	Payload []byte
}

// slot is the response table's per-seq-id arena entry (spec §3
// ThriftSharedState: "mapping seq-id → response slot {data?, waker?,
// created-at, terminal-flag}").
type slot struct {
	data     []byte
	err      error
	terminal bool
	created  time.Time
	notify   chan struct{}
}

// Mux drives one shared TCP transport on behalf of many logical callers.
type Mux struct {
	conn io.ReadWriter

	mu       sync.Mutex
	slots    map[uint32]*slot
	closed   bool
	localErr error

	writeCh chan *Request
}

// New builds a Mux over conn with a bounded outgoing-request queue of the
// given size (spec §3 "bounded FIFO of queued client requests").
func New(conn io.ReadWriter, queueSize int) *Mux {
	if queueSize <= 0 {
		queueSize = 64
	}
	m := &Mux{conn: conn, slots: make(map[uint32]*slot), writeCh: make(chan *Request, queueSize)}
	return m
}

// Run starts the writer and reader tasks (spec §4.6) and blocks until ctx
// is cancelled or the transport fails.
func (m *Mux) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- m.writeLoop(ctx) }()
	go func() { errCh <- m.readLoop() }()

	select {
	case <-ctx.Done():
		m.Close(ctx.Err())
		return ctx.Err()
	case err := <-errCh:
		m.Close(err)
		return err
	}
}

// Send enqueues req for the writer task; it blocks if the queue is full,
// and fails immediately once the transport has closed (spec §4.6 "Error
// paths close the queue (pushes fail)").
func (m *Mux) Send(ctx context.Context, req *Request) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return protoerr.UpstreamProtocolError.Error(m.localErr)
	}
	m.mu.Unlock()

	select {
	case m.writeCh <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await blocks for the response to seqID, registering a waiter slot if one
// does not already exist (spec §3/§8: "each response delivered to at most
// one awaiting caller").
func (m *Mux) Await(ctx context.Context, seqID uint32) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, protoerr.UpstreamProtocolError.Error(m.localErr)
	}
	s, ok := m.slots[seqID]
	if !ok {
		s = &slot{created: time.Now(), notify: make(chan struct{})}
		m.slots[seqID] = s
	}
	m.mu.Unlock()

	select {
	case <-s.notify:
		m.mu.Lock()
		delete(m.slots, seqID)
		m.mu.Unlock()
		return s.data, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Mux) writeLoop(ctx context.Context) error {
	for {
		select {
		case req, ok := <-m.writeCh:
			if !ok {
				return nil
			}
			hdr := make([]byte, 8)
			framing.PutUint32(hdr[0:4], uint32(len(req.Payload)+4))
			framing.PutUint32(hdr[4:8], req.SeqID)
			if _, err := m.conn.Write(hdr); err != nil {
				return protoerr.UpstreamProtocolError.Error(err)
			}
			if _, err := m.conn.Write(req.Payload); err != nil {
				return protoerr.UpstreamProtocolError.Error(err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Mux) readLoop() error {
	hdr := make([]byte, 8)
	for {
		if _, err := io.ReadFull(m.conn, hdr); err != nil {
			return protoerr.UpstreamProtocolError.Error(err)
		}
		frameLen := framing.GetUint32(hdr[0:4])
		seqID := framing.GetUint32(hdr[4:8])
		if frameLen < 4 {
			return protoerr.UpstreamProtocolError.Error(nil)
		}
		payload := make([]byte, frameLen-4)
		if _, err := io.ReadFull(m.conn, payload); err != nil {
			return protoerr.UpstreamProtocolError.Error(err)
		}
		m.deliver(seqID, payload, nil)
	}
}

// deliver routes one decoded response to its waiter (spec §8: "responses
// with unknown seq-id are dropped without aborting the transport").
func (m *Mux) deliver(seqID uint32, data []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[seqID]
	if !ok {
		return // unknown seq-id: dropped silently, per spec invariant 5.
	}
	if s.terminal {
		return
	}
	s.data, s.err, s.terminal = data, err, true
	close(s.notify)
}

// Close marks the transport closed so that later Send calls fail (a Send
// already blocked on a full queue is not woken by Close), and wakes
// every outstanding waiter with cause as a terminal error (spec §4.6:
// "drain outstanding wakers").
func (m *Mux) Close(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.localErr = cause

	for seq, s := range m.slots {
		if !s.terminal {
			s.err = protoerr.UpstreamProtocolError.Error(cause)
			s.terminal = true
			close(s.notify)
		}
		delete(m.slots, seq)
	}
}
