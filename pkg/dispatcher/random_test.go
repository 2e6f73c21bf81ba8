package dispatcher

import "testing"

func TestRandom_NeverOutOfRange(t *testing.T) {
	d := NewRandom(5)
	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		idx := d.Select("")
		if idx < 0 || idx >= 5 {
			t.Fatalf("index %d out of range [0,5)", idx)
		}
		seen[idx] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected all 5 workers to be selected at least once over 2000 draws, got %d distinct", len(seen))
	}
}
