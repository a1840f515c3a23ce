// Package transit implements the bidirectional copy pipeline of spec §4.10:
// once no further protocol parsing is needed (CONNECT tunnel, transparent
// bypass, block/detour actions), StreamTransit relays bytes in both
// directions under per-side rate limits with an idle watchdog and periodic
// task-log flush, grounded on the teacher's runner/startStop lifecycle
// shape (runner/startStop) generalized from a generic start/stop task into
// this specific four-task pipeline (spec §4.10: clt→ups copy, ups→clt
// copy, idle ticker, task-log ticker).
package transit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/nabbar/g3relay/internal/logx"
	"github.com/nabbar/g3relay/internal/protoerr"
)

// Policy is the detour/block/continue decision a detour sidecar may make
// (spec §4.10 "Detour"); Continue means relay as configured, Bypass means
// relay without further inspection (same behavior at this layer), Block
// terminates the transit immediately.
type Policy int

const (
	PolicyContinue Policy = iota
	PolicyBypass
	PolicyBlock
)

// Sides bundles the paired client/upstream readers and writers StreamIO
// owns for the duration of one transit (spec §3 StreamIO).
type Sides struct {
	ClientReader   io.Reader
	ClientWriter   io.Writer
	UpstreamReader io.Reader
	UpstreamWriter io.Writer
}

// Stats reports the byte counters accumulated over one transit's lifetime
// and the current run of consecutive idle ticks (reset whenever either
// direction makes progress), for the periodic task log (spec §7).
type Stats struct {
	BytesClientToUpstream int64
	BytesUpstreamToClient int64
	IdleTicks             int
}

// Options configures one StreamTransit run.
type Options struct {
	IdleCheckInterval time.Duration
	IdleMaxCount      int
	TaskLogInterval   time.Duration
	Log               *logx.Logger
	Policy            Policy
}

// Run drives the four concurrent tasks of spec §4.10 until ctx is
// cancelled, both copy directions have ended, or the idle watchdog trips.
// When it returns early it does not wait for the copy goroutines; they end
// once the caller closes the connections behind sides. The
// first error on either copy direction fails the whole transit (spec
// §4.10 "Cancellation"); a clean EOF on one half is treated as a graceful
// half-close and does not itself fail the other direction.
func Run(ctx context.Context, sides Sides, opt Options) (Stats, error) {
	if opt.Policy == PolicyBlock {
		return Stats{}, protoerr.ForbiddenByRule.Error(nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		stats    Stats
		statsMu  sync.Mutex
		progress = make(chan struct{}, 2)
	)

	mark := func(n int64, north bool) {
		if n <= 0 {
			return
		}
		statsMu.Lock()
		if north {
			stats.BytesClientToUpstream += n
		} else {
			stats.BytesUpstreamToClient += n
		}
		statsMu.Unlock()
		select {
		case progress <- struct{}{}:
		default:
		}
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errCh <- copyMarked(sides.UpstreamWriter, sides.ClientReader, func(n int64) { mark(n, true) })
	}()
	go func() {
		defer wg.Done()
		errCh <- copyMarked(sides.ClientWriter, sides.UpstreamReader, func(n int64) { mark(n, false) })
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	idleTicker := time.NewTicker(nonZero(opt.IdleCheckInterval, 5*time.Second))
	defer idleTicker.Stop()

	var logTicker *time.Ticker
	var logTickC <-chan time.Time
	if opt.TaskLogInterval > 0 {
		logTicker = time.NewTicker(opt.TaskLogInterval)
		logTickC = logTicker.C
		defer logTicker.Stop()
	}

	maxIdle := opt.IdleMaxCount
	if maxIdle <= 0 {
		maxIdle = 12
	}

	var progressed bool
	var firstErr error

	for {
		select {
		case <-ctx.Done():
			cancel()
			if firstErr != nil {
				return stats, firstErr
			}
			return stats, ctx.Err()

		case <-done:
			for firstErr == nil && len(errCh) > 0 {
				firstErr = <-errCh
			}
			return stats, firstErr

		case err := <-errCh:
			if firstErr == nil && err != nil {
				firstErr = err
				cancel()
			}

		case <-progress:
			progressed = true

		case <-idleTicker.C:
			if progressed {
				stats.IdleTicks = 0
				progressed = false
			} else {
				stats.IdleTicks++
				if stats.IdleTicks >= maxIdle {
					cancel()
					idleErr := protoerr.IdleTimeout.Error(nil)
					if opt.Log != nil {
						opt.Log.Errorf(idleErr, "transit idle timeout")
					}
					return stats, idleErr
				}
			}

		case <-logTickC:
			if opt.Log != nil {
				opt.Log.Stage("transit", stats.BytesClientToUpstream, stats.BytesUpstreamToClient, 0, nil)
			}
		}
	}
}

// copyMarked is io.Copy with a per-write progress callback, used instead
// of io.CopyBuffer+io.Writer wrapping so the idle watchdog sees forward
// progress at a fixed buffer-sized granularity (spec §5 "yield after
// yield_size bytes").
func copyMarked(dst io.Writer, src io.Reader, mark func(int64)) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			mark(int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

func nonZero(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
