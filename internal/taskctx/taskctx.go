// Package taskctx implements InspectContext (spec §3): the bundle of
// shared, per-generation state threaded through every inspection engine —
// audit handle, server configuration, quit policy, idle wheel, and the
// monotonically increasing recursion depth of one stream's inspection.
package taskctx

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nabbar/g3relay/internal/logx"
	"github.com/nabbar/g3relay/internal/netcfg"
)

// QuitPolicy lets the owning server signal a generation-wide shutdown; the
// transit and protocol engines poll Done() at their suspension points.
type QuitPolicy interface {
	Done() <-chan struct{}
}

// IdleWheel is the hashed-wheel timer contract from spec §5: registrations
// return an opaque slot and the wheel notifies on a per-slot channel.
type IdleWheel interface {
	Register() (slot IdleSlot, notify <-chan struct{})
}

// IdleSlot is the opaque handle returned by IdleWheel.Register.
type IdleSlot interface {
	Touch()
	Release()
}

// MaxInspectionDepth bounds protocol recursion (TLS-in-TLS, STARTTLS,
// WebSocket upgrade...) per spec invariant 3; beyond it an engine must
// fall back to transparent transit.
const MaxInspectionDepth = 8

// InspectContext is immutable-by-convention except for Depth, which each
// recursive handoff increments via WithDepth.
type InspectContext struct {
	ctx    context.Context
	audit  func(error)
	Config netcfg.Config
	Quit   QuitPolicy
	Wheel  IdleWheel
	Log    *logx.Logger
	Depth  int
	SpanID string

	userQuota atomic.Int64
}

// New constructs the root InspectContext for one accepted stream.
func New(ctx context.Context, cfg netcfg.Config, quit QuitPolicy, wheel IdleWheel, log *logx.Logger) *InspectContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &InspectContext{
		ctx:    ctx,
		Config: cfg,
		Quit:   quit,
		Wheel:  wheel,
		Log:    log,
		Depth:  0,
		SpanID: uuid.NewString(),
	}
}

// Context returns the underlying cancellation context.
func (c *InspectContext) Context() context.Context {
	if c == nil {
		return context.Background()
	}
	return c.ctx
}

// SetAuditSink installs the nullable, shared audit handle (spec §3):
// every engine's terminal error is mirrored here via Audit.
func (c *InspectContext) SetAuditSink(fn func(error)) {
	if c == nil {
		return
	}
	c.audit = fn
}

// Audit mirrors err to the installed audit handle, if any. Safe to call
// with a nil error (no-op) or on a context with no sink installed.
func (c *InspectContext) Audit(err error) {
	if c == nil || c.audit == nil || err == nil {
		return
	}
	c.audit(err)
}

// WithDepth returns a child InspectContext one recursion level deeper,
// sharing every other field (spec invariant 3: depth is monotonically
// increasing and bounded by MaxInspectionDepth).
func (c *InspectContext) WithDepth() (*InspectContext, bool) {
	if c == nil {
		return nil, false
	}
	if c.Depth+1 > MaxInspectionDepth {
		return c, false
	}
	child := *c
	child.Depth = c.Depth + 1
	child.SpanID = uuid.NewString()
	return &child, true
}

// Done reports whether the owning server has requested shutdown.
func (c *InspectContext) Done() bool {
	if c == nil || c.Quit == nil {
		return false
	}
	select {
	case <-c.Quit.Done():
		return true
	default:
		return false
	}
}
