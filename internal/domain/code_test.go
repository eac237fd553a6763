package domain

import "testing"

func TestNewSessionCodeShape(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NewSessionCode()
		if err != nil {
			t.Fatalf("new code: %v", err)
		}
		if !ValidCode(code) {
			t.Fatalf("invalid code %q", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 190 {
		t.Fatalf("expected mostly unique codes, got %d distinct", len(seen))
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		" abc123 ": "ABC123",
		"XyZ9k2":   "XYZ9K2",
	}
	for in, want := range cases {
		if got := NormalizeCode(in); got != want {
			t.Fatalf("normalize %q: got %q want %q", in, got, want)
		}
	}
	if ValidCode("ABC12") || ValidCode("ABC-12") || ValidCode("abc123") {
		t.Fatalf("expected malformed codes to be rejected")
	}
}
