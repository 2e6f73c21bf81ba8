package dispatcher

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geoserve/mapserver/pkg/metrics"
	"github.com/geoserve/mapserver/pkg/types"
)

// rollingWindow is N from the promotion/demotion algorithm: both the
// latency average and the demotion streak are measured over this many
// observations.
const rollingWindow = 8

// WmsOptimizedConfig tunes the promotion/demotion thresholds.
type WmsOptimizedConfig struct {
	// SlowThreshold is the rolling-average latency above which a project
	// migrates to the slow (priority-0) tier. Defaults to 1s.
	SlowThreshold time.Duration
}

// WmsOptimized assigns each project an affine worker, tracking a rolling
// latency average per (map, request, layers, width x height) fingerprint to
// promote consistently slow projects onto a dedicated "slow" tier and demote
// them back once they cool off. Affinity is advisory: a project with no
// assignment, or whose assigned worker is busy with slow work, falls back
// to picking the least-loaded worker.
type WmsOptimized struct {
	load          PoolLoad
	slowThreshold time.Duration

	mu    sync.Mutex
	table [2]map[string]int // index 0 = slow tier, 1 = normal tier
	stats map[string]*fingerprintStats
}

// NewWmsOptimized constructs the optimized dispatcher. A zero SlowThreshold
// defaults to one second.
func NewWmsOptimized(load PoolLoad, cfg WmsOptimizedConfig) *WmsOptimized {
	threshold := cfg.SlowThreshold
	if threshold == 0 {
		threshold = time.Second
	}
	return &WmsOptimized{
		load:          load,
		slowThreshold: threshold,
		table:         [2]map[string]int{{}, {}},
		stats:         make(map[string]*fingerprintStats),
	}
}

// Select parses the fingerprint from queryString and returns an affine
// worker when one is assigned and not presently busy with slow work;
// otherwise it falls back to least-loaded, recording a fresh assignment.
func (d *WmsOptimized) Select(queryString string) int {
	fp, ok := parseFingerprint(queryString)
	if !ok {
		return rand0N(d.load.WorkerCount())
	}
	key := fp.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	if widx, ok := d.table[1][key]; ok && !d.isBusyWithSlowLocked(widx) {
		return widx
	}
	if widx, ok := d.table[0][key]; ok {
		return widx
	}

	widx := leastLoaded(d.load)
	d.table[1][key] = widx
	return widx
}

// Record reports the observed latency for a completed request. The rolling
// average decides promotion to the slow tier; rollingWindow consecutive
// observations below half the threshold decide demotion back to normal.
// Called by the request shim once a response finishes.
func (d *WmsOptimized) Record(queryString string, workerIdx int, latency time.Duration) {
	fp, ok := parseFingerprint(queryString)
	if !ok {
		return
	}
	key := fp.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.stats[key]
	if !ok {
		st = newFingerprintStats()
		d.stats[key] = st
	}
	avg := st.observe(latency)
	if latency < d.slowThreshold/2 {
		st.belowHalfStreak++
	} else {
		st.belowHalfStreak = 0
	}

	_, alreadySlow := d.table[0][key]

	switch {
	case avg > d.slowThreshold:
		if !alreadySlow {
			d.table[0][key] = workerIdx
			delete(d.table[1], key)
			metrics.DispatchSlowPromotionsTotal.Inc()
		} else {
			d.table[0][key] = workerIdx
		}
	case alreadySlow && st.belowHalfStreak >= rollingWindow:
		delete(d.table[0], key)
		d.table[1][key] = workerIdx
		metrics.DispatchSlowDemotionsTotal.Inc()
		st.belowHalfStreak = 0
	}
}

// isBusyWithSlowLocked reports whether workerIdx is presently the assignee
// of any slow-tier project. Caller holds d.mu.
func (d *WmsOptimized) isBusyWithSlowLocked(workerIdx int) bool {
	for _, idx := range d.table[0] {
		if idx == workerIdx {
			return true
		}
	}
	return false
}

// fingerprintStats keeps a fixed-size rolling window of observed latencies
// plus a streak counter for consecutive below-half-threshold observations.
type fingerprintStats struct {
	samples         [rollingWindow]time.Duration
	count           int
	next            int
	belowHalfStreak int
}

func newFingerprintStats() *fingerprintStats {
	return &fingerprintStats{}
}

// observe records d and returns the updated rolling average.
func (s *fingerprintStats) observe(d time.Duration) time.Duration {
	s.samples[s.next] = d
	s.next = (s.next + 1) % rollingWindow
	if s.count < rollingWindow {
		s.count++
	}

	var sum time.Duration
	for i := 0; i < s.count; i++ {
		sum += s.samples[i]
	}
	return sum / time.Duration(s.count)
}

// parseFingerprint extracts a RequestFingerprint from a raw query string,
// lowercased for stability across URL-encoding variants. Returns ok=false
// when the required "map" parameter is absent, signaling a fall-through to
// uniform random selection.
func parseFingerprint(queryString string) (types.RequestFingerprint, bool) {
	values, err := url.ParseQuery(strings.ToLower(queryString))
	if err != nil {
		return types.RequestFingerprint{}, false
	}

	project := values.Get("map")
	if project == "" {
		return types.RequestFingerprint{}, false
	}

	width, _ := strconv.Atoi(values.Get("width"))
	height, _ := strconv.Atoi(values.Get("height"))

	return types.RequestFingerprint{
		Project: project,
		Request: values.Get("request"),
		Layers:  values.Get("layers"),
		Width:   width,
		Height:  height,
	}, true
}
