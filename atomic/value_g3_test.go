package atomic_test

import (
	"testing"

	libatm "github.com/nabbar/g3relay/atomic"
)

func TestValueLoadStore(t *testing.T) {
	v := libatm.NewValue[int]()

	if got := v.Load(); got != 0 {
		t.Fatalf("got %d, want zero value", got)
	}

	v.Store(42)
	if got := v.Load(); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestMapAnyStoreLoad(t *testing.T) {
	m := libatm.NewMapAny[string]()
	m.Store("k", "v")

	got, ok := m.Load("k")
	if !ok || got != "v" {
		t.Fatalf("got (%v, %v), want (v, true)", got, ok)
	}
}
