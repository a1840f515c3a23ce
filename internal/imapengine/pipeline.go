package imapengine

import (
	"sync"
	"time"
)

// inflight is one ongoing tagged command (spec §3 ImapCommandPipeline).
type inflight struct {
	cmd     *Command
	started time.Time
}

// CommandPipeline maps client tag → ongoing command, enforcing spec §3's
// invariant of at most one ongoing literal-bearing command at a time and
// expiring stale entries past requestTimeout (spec §4.5: "A background
// periodic cleanup expires response table entries older than the
// configured request timeout").
type CommandPipeline struct {
	mu             sync.Mutex
	byTag          map[string]*inflight
	literalPending bool
	requestTimeout time.Duration
}

// NewCommandPipeline builds an empty pipeline.
func NewCommandPipeline(requestTimeout time.Duration) *CommandPipeline {
	return &CommandPipeline{byTag: make(map[string]*inflight), requestTimeout: requestTimeout}
}

// Begin registers cmd as in flight; it returns false if a literal-bearing
// command is already outstanding (spec §3 invariant).
func (p *CommandPipeline) Begin(cmd *Command) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cmd.Literal > 0 && p.literalPending {
		return false
	}
	if cmd.Literal > 0 {
		p.literalPending = true
	}
	p.byTag[cmd.Tag] = &inflight{cmd: cmd, started: time.Now()}
	return true
}

// Complete removes tag's entry upon the server's tagged result (spec §3:
// "completed commands are removed upon server tagged result").
func (p *CommandPipeline) Complete(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.byTag[tag]; ok && e.cmd.Literal > 0 {
		p.literalPending = false
	}
	delete(p.byTag, tag)
}

// SweepExpired removes entries older than requestTimeout, returning the
// tags it removed so the caller can fail them toward the client.
func (p *CommandPipeline) SweepExpired() []string {
	if p.requestTimeout <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.requestTimeout)
	var expired []string
	for tag, e := range p.byTag {
		if e.started.Before(cutoff) {
			expired = append(expired, tag)
			if e.cmd.Literal > 0 {
				p.literalPending = false
			}
			delete(p.byTag, tag)
		}
	}
	return expired
}
