package dispatcher

import (
	"testing"
	"time"
)

type fakeLoad struct {
	n     int
	inUse []int
}

func newFakeLoad(n int) *fakeLoad {
	return &fakeLoad{n: n, inUse: make([]int, n)}
}

func (f *fakeLoad) WorkerCount() int       { return f.n }
func (f *fakeLoad) InUseCount(idx int) int { return f.inUse[idx] }

const sameProjectQuery = "map=world&service=wms&request=getmap&layers=base&width=256&height=256"

func TestWmsOptimized_AffinityForRepeatedFingerprint(t *testing.T) {
	load := newFakeLoad(4)
	d := NewWmsOptimized(load, WmsOptimizedConfig{})

	first := d.Select(sameProjectQuery)
	second := d.Select(sameProjectQuery)

	if first != second {
		t.Fatalf("expected affinity for identical fingerprint, got %d then %d", first, second)
	}
}

func TestWmsOptimized_NoMapFallsBackToRandom(t *testing.T) {
	load := newFakeLoad(3)
	d := NewWmsOptimized(load, WmsOptimizedConfig{})

	idx := d.Select("service=wms&request=getcapabilities")
	if idx < 0 || idx >= 3 {
		t.Fatalf("index %d out of range [0,3)", idx)
	}
}

func TestWmsOptimized_PromotesToSlowTierOnSlowAverage(t *testing.T) {
	load := newFakeLoad(2)
	d := NewWmsOptimized(load, WmsOptimizedConfig{SlowThreshold: time.Second})

	widx := d.Select(sameProjectQuery)
	d.Record(sameProjectQuery, widx, 2*time.Second)

	fp, _ := parseFingerprint(sameProjectQuery)
	key := fp.String()

	d.mu.Lock()
	_, inSlow := d.table[0][key]
	_, inNormal := d.table[1][key]
	d.mu.Unlock()

	if !inSlow {
		t.Fatal("expected project to be promoted to the slow tier")
	}
	if inNormal {
		t.Fatal("promoted project must be removed from the normal tier")
	}
}

func TestWmsOptimized_DemotesAfterNConsecutiveFastObservations(t *testing.T) {
	load := newFakeLoad(2)
	threshold := time.Second
	d := NewWmsOptimized(load, WmsOptimizedConfig{SlowThreshold: threshold})

	widx := d.Select(sameProjectQuery)
	d.Record(sameProjectQuery, widx, 2*threshold) // promote

	fp, _ := parseFingerprint(sameProjectQuery)
	key := fp.String()

	for i := 0; i < rollingWindow; i++ {
		d.Record(sameProjectQuery, widx, threshold/4) // well below half threshold
	}

	d.mu.Lock()
	_, inSlow := d.table[0][key]
	_, inNormal := d.table[1][key]
	d.mu.Unlock()

	if inSlow {
		t.Fatal("expected project to be demoted out of the slow tier")
	}
	if !inNormal {
		t.Fatal("demoted project must return to the normal tier")
	}
}

func TestWmsOptimized_SkipsAffineWorkerBusyWithSlowWork(t *testing.T) {
	load := newFakeLoad(3)
	d := NewWmsOptimized(load, WmsOptimizedConfig{SlowThreshold: time.Second})

	const normalQuery = "map=fast&request=getmap&layers=base&width=10&height=10"
	widx := d.Select(normalQuery) // assigns normal-tier affinity to widx (worker 0: all loads tie at zero)

	// Mark widx busy with an unrelated slow project, and make it the
	// heaviest-loaded worker so a forced re-pick lands elsewhere.
	load.inUse[widx] = 100
	d.mu.Lock()
	d.table[0]["other-slow-project"] = widx
	d.mu.Unlock()

	reselected := d.Select(normalQuery)
	if reselected == widx {
		t.Fatalf("expected dispatcher to avoid worker %d while it is busy with slow work", widx)
	}
}
