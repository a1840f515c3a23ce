package benchdriver

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPoolReusesPutConnections(t *testing.T) {
	dialCount := 0
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	pool := NewPool(func(ctx context.Context) (net.Conn, error) {
		dialCount++
		return c1, nil
	}, 2)

	got, err := pool.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pool.Put(got)

	got2, err := pool.Get(context.Background())
	if err != nil {
		t.Fatalf("get2: %v", err)
	}
	if got2 != got {
		t.Fatalf("expected the pooled connection to be reused")
	}
	if dialCount != 1 {
		t.Fatalf("expected exactly 1 dial, got %d", dialCount)
	}
}

func TestPoolGetAfterCloseFails(t *testing.T) {
	pool := NewPool(func(ctx context.Context) (net.Conn, error) { return nil, nil }, 1)
	_ = pool.Close()
	_, err := pool.Get(context.Background())
	if err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestHistogramQuantile(t *testing.T) {
	h := NewHistogram()
	for _, ms := range []int{10, 20, 30, 40, 50} {
		h.Record(time.Duration(ms) * time.Millisecond)
	}
	if h.Count() != 5 {
		t.Fatalf("expected 5 samples, got %d", h.Count())
	}
	if got := h.Quantile(0); got != 10*time.Millisecond {
		t.Fatalf("p0 = %v, want 10ms", got)
	}
	if got := h.Quantile(1); got != 50*time.Millisecond {
		t.Fatalf("p100 = %v, want 50ms", got)
	}
}

func TestFanOutRunsAllTasks(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	pool := NewPool(func(ctx context.Context) (net.Conn, error) { return client, nil }, 1)
	hist := NewHistogram()

	ran := 0
	task := func(ctx context.Context, conn net.Conn) error {
		ran++
		_, err := conn.Write([]byte("x"))
		return err
	}

	if err := FanOut(context.Background(), pool, task, 1, 3, hist); err != nil {
		t.Fatalf("fanout: %v", err)
	}
	if ran != 3 {
		t.Fatalf("expected 3 task invocations, got %d", ran)
	}
	if hist.Count() != 3 {
		t.Fatalf("expected 3 histogram samples, got %d", hist.Count())
	}
}
