package runner

import "testing"

func TestRecoveryCallerNoPanicIsNoop(t *testing.T) {
	RecoveryCaller("test", nil)
}

func TestRecoveryCallerWithPanicDoesNotPanic(t *testing.T) {
	RecoveryCaller("test", "boom", "extra context")
}
