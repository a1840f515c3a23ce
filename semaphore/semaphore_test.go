package semaphore

import (
	"context"
	"testing"
)

func TestBoundedSemaphoreLimitsConcurrency(t *testing.T) {
	s := New(context.Background(), 2, false)

	if !s.NewWorkerTry() {
		t.Fatal("want first slot to be free")
	}
	if !s.NewWorkerTry() {
		t.Fatal("want second slot to be free")
	}
	if s.NewWorkerTry() {
		t.Fatal("want third slot to be full")
	}

	s.DeferWorker()

	if !s.NewWorkerTry() {
		t.Fatal("want a slot to be free after DeferWorker")
	}
}

func TestUnboundedSemaphoreNeverBlocks(t *testing.T) {
	s := New(context.Background(), 0, false)

	for i := 0; i < 100; i++ {
		if !s.NewWorkerTry() {
			t.Fatalf("unbounded semaphore refused worker %d", i)
		}
	}
}

func TestDeferMainIsSafeNoop(t *testing.T) {
	New(context.Background(), 1, false).DeferMain()
	New(context.Background(), 0, false).DeferMain()
}
