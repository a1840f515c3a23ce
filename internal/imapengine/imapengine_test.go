package imapengine

import "testing"

func TestPreAuthAllowList(t *testing.T) {
	e := New()
	if err := e.ParseGreeting("* OK IMAP4rev1 ready\r\n"); err != nil {
		t.Fatalf("parse greeting: %v", err)
	}
	if e.State() != NotAuthenticated {
		t.Fatalf("got state %v, want NotAuthenticated", e.State())
	}

	allowed, _ := ParseCommand("A001 LOGIN user pass")
	if !e.Allow(allowed) {
		t.Fatalf("expected LOGIN allowed pre-auth")
	}

	disallowed, _ := ParseCommand("A002 SELECT INBOX")
	if e.Allow(disallowed) {
		t.Fatalf("expected SELECT disallowed pre-auth")
	}
}

func TestPreAuthJump(t *testing.T) {
	e := New()
	if err := e.ParseGreeting("* PREAUTH server ready\r\n"); err != nil {
		t.Fatalf("parse greeting: %v", err)
	}
	if e.State() != Authenticated {
		t.Fatalf("got state %v, want Authenticated", e.State())
	}
}

func TestSTARTTLSAfterAuthenticateRejected(t *testing.T) {
	e := New()
	_ = e.ParseGreeting("* OK ready\r\n")
	e.OnAuthenticateStart()
	e.OnAuthenticateEnd(true)

	cmd, _ := ParseCommand("A003 STARTTLS")
	if e.Allow(cmd) {
		t.Fatalf("expected STARTTLS after AUTHENTICATE to be rejected with BAD")
	}
}

func TestLiteralParsing(t *testing.T) {
	cmd, err := ParseCommand("A004 APPEND INBOX {12}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Literal != 12 || cmd.NonSync {
		t.Fatalf("got literal=%d nonSync=%v, want 12/false", cmd.Literal, cmd.NonSync)
	}

	cmd2, err := ParseCommand("A005 APPEND INBOX {12+}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd2.Literal != 12 || !cmd2.NonSync {
		t.Fatalf("got literal=%d nonSync=%v, want 12/true", cmd2.Literal, cmd2.NonSync)
	}
}

func TestCommandPipelineSingleLiteralAtATime(t *testing.T) {
	p := NewCommandPipeline(0)
	c1 := &Command{Tag: "A1", Literal: 10}
	c2 := &Command{Tag: "A2", Literal: 5}

	if !p.Begin(c1) {
		t.Fatalf("expected first literal command to begin")
	}
	if p.Begin(c2) {
		t.Fatalf("expected second literal command to be rejected while one is pending")
	}
	p.Complete("A1")
	if !p.Begin(c2) {
		t.Fatalf("expected second literal command to begin after the first completes")
	}
}
