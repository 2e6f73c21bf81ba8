package dispatcher

import "testing"

func TestRoundRobin_DistributesEvenly(t *testing.T) {
	const workers = 3
	const rounds = 100 // not a multiple of workers, exercises the remainder

	d := NewRoundRobin(workers)
	counts := make([]int, workers)
	for i := 0; i < rounds; i++ {
		counts[d.Select("")]++
	}

	floor := rounds / workers
	ceil := floor + 1
	for idx, c := range counts {
		if c != floor && c != ceil {
			t.Fatalf("worker %d got %d selections, want %d or %d", idx, c, floor, ceil)
		}
	}
}

func TestRoundRobin_NeverOutOfRange(t *testing.T) {
	d := NewRoundRobin(4)
	for i := 0; i < 50; i++ {
		idx := d.Select("")
		if idx < 0 || idx >= 4 {
			t.Fatalf("index %d out of range [0,4)", idx)
		}
	}
}
