package wsengine

import (
	"context"
	"errors"
	"io"

	"github.com/nabbar/g3relay/internal/protoerr"
)

// Role distinguishes which side of the bridge this engine instance relays
// for, since Ping/Pong echo policy differs by role (spec §8 scenario 4:
// "when acting as server proxy, the engine must not duplicate Pong").
type Role int

const (
	// RoleServerProxy relays frames read from the client to the upstream
	// and vice versa without synthesizing its own Pong replies; the
	// upstream server is expected to answer Pings itself.
	RoleServerProxy Role = iota
	// RoleAutoPong additionally answers a received Ping locally with a
	// Pong before forwarding the Ping onward (used when the engine itself,
	// rather than either peer, owns liveness checking).
	RoleAutoPong
)

// RelayOptions configures one direction of a WebSocket bridge.
type RelayOptions struct {
	Frame Options
	Role  Role
}

// Relay reads frames from src and writes them to dst one by one, keeping a
// running total of each fragmented message's payload for the
// MaxMessageSize check (SPEC_FULL.md §13b), which is applied as every
// fragment arrives,
// and answering Ping frames per opt.Role. It returns when src reaches EOF
// or a Close frame completes a symmetric close (spec §4.7).
func Relay(ctx context.Context, dst io.Writer, src io.Reader, opt RelayOptions) error {
	var reassembled []byte

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, err := ReadFrame(src, opt.Frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch f.Opcode {
		case OpPing:
			if err := WriteFrame(dst, f); err != nil {
				return err
			}
			if opt.Role == RoleAutoPong {
				if err := WriteFrame(dst, Pong(f)); err != nil {
					return err
				}
			}
			continue

		case OpText, OpBinary:
			reassembled = append([]byte(nil), f.Payload...)
			if err := checkMessageSize(reassembled, opt.Frame.MaxMessageSize); err != nil {
				return err
			}
			if err := WriteFrame(dst, f); err != nil {
				return err
			}
			continue

		case OpContinuation:
			reassembled = append(reassembled, f.Payload...)
			if err := checkMessageSize(reassembled, opt.Frame.MaxMessageSize); err != nil {
				return err
			}
			if err := WriteFrame(dst, f); err != nil {
				return err
			}
			continue

		case OpPong:
			if err := WriteFrame(dst, f); err != nil {
				return err
			}
			continue

		case OpClose:
			_ = WriteFrame(dst, f)
			return nil

		default:
			if err := WriteFrame(dst, f); err != nil {
				return err
			}
		}
	}
}

func checkMessageSize(reassembled []byte, max int64) error {
	if max > 0 && int64(len(reassembled)) > max {
		return protoerr.ResourceExhausted.Error(nil)
	}
	return nil
}
