package id

import "testing"

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		got, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if len(got) != 26 {
			t.Fatalf("expected 26 characters, got %d (%q)", len(got), got)
		}
		for _, r := range got {
			if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
				t.Fatalf("unexpected character %q in id %q", r, got)
			}
		}
		if seen[got] {
			t.Fatalf("duplicate id generated: %q", got)
		}
		seen[got] = true
	}
}
