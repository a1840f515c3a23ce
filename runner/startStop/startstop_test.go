package startStop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStartStopLifecycle(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})

	ss := New(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}, func(ctx context.Context) error {
		close(stopped)
		return nil
	})

	if ss.IsRunning() {
		t.Fatal("must not be running before Start")
	}

	if err := ss.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("run function never started")
	}

	if !ss.IsRunning() {
		t.Fatal("must be running after Start")
	}

	if err := ss.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("got %v, want ErrAlreadyRunning", err)
	}

	if err := ss.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case <-stopped:
	default:
		t.Fatal("close function was not invoked")
	}

	if ss.IsRunning() {
		t.Fatal("must not be running after Stop")
	}
}

func TestStartStopUptimeZeroWhenNotRunning(t *testing.T) {
	ss := New(func(ctx context.Context) error { return nil }, nil)
	if u := ss.Uptime(); u != 0 {
		t.Fatalf("got %v, want 0", u)
	}
}

func TestStartStopErrorsList(t *testing.T) {
	done := make(chan struct{})
	ss := New(func(ctx context.Context) error {
		close(done)
		return errors.New("boom")
	}, nil)

	if err := ss.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run never executed")
	}

	deadline := time.Now().Add(time.Second)
	for ss.ErrorsLast() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if last := ss.ErrorsLast(); last == nil || last.Error() != "boom" {
		t.Fatalf("got %v, want boom", last)
	}

	if list := ss.ErrorsList(); len(list) != 1 {
		t.Fatalf("got %d errors, want 1", len(list))
	}
}
