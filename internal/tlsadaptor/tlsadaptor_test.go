package tlsadaptor

import "testing"

func TestEffectiveHostPrefersSNI(t *testing.T) {
	got := effectiveHost("example.com", "203.0.113.9:443")
	if got != "example.com" {
		t.Fatalf("got %q, want SNI to win", got)
	}
}

func TestEffectiveHostFallsBackToUpstreamAddr(t *testing.T) {
	// spec §4.2 step 3: absent SNI falls back to the upstream IP literal,
	// never the downstream client's own remote address.
	got := effectiveHost("", "203.0.113.9:443")
	if got != "203.0.113.9" {
		t.Fatalf("got %q, want upstream host 203.0.113.9", got)
	}
}

func TestServerNameFromAddrWithoutPort(t *testing.T) {
	got := serverNameFromAddr("not-a-host-port")
	if got != "not-a-host-port" {
		t.Fatalf("got %q, want the raw value returned unchanged", got)
	}
}
