package perm_test

import (
	"testing"

	"github.com/nabbar/g3relay/file/perm"
)

func TestParseOctalRoundtrip(t *testing.T) {
	p, err := perm.Parse("0644")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := p.String(); got != "0644" {
		t.Fatalf("got %q", got)
	}
}

func TestMarshalUnmarshalJSON(t *testing.T) {
	p, err := perm.Parse("0755")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	b, err := p.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var got perm.Perm
	if err := got.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got != p {
		t.Fatalf("got %v, want %v", got, p)
	}
}

func TestMarshalUnmarshalCBOR(t *testing.T) {
	p, err := perm.Parse("0600")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	b, err := p.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}

	var got perm.Perm
	if err := got.UnmarshalCBOR(b); err != nil {
		t.Fatalf("UnmarshalCBOR: %v", err)
	}
	if got != p {
		t.Fatalf("got %v, want %v", got, p)
	}
}
