package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Job stages recorded by the speech supervisor.
const (
	StageQueueWait = "queue_wait"
	StageLaunch    = "launch"
	StageSynthesis = "synthesis"
	StageCleanup   = "cleanup"
	StageJobTotal  = "job_total"
)

type JobStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type JobIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type JobStageSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	WindowSize  int             `json:"window_size"`
	Stages      []JobStageStats `json:"stages"`
	Indicators  []JobIndicator  `json:"indicators,omitempty"`
}

// jobStageWindow keeps the most recent samples per stage in fixed rings.
type jobStageWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*stageRing
	indicators map[string]int
}

type stageRing struct {
	values []float64
	pos    int
	full   bool
	last   float64
}

func (r *stageRing) push(v float64) {
	r.values[r.pos] = v
	r.last = v
	r.pos = (r.pos + 1) % len(r.values)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *stageRing) samples() []float64 {
	n := r.pos
	if r.full {
		n = len(r.values)
	}
	return slices.Clone(r.values[:n])
}

func newJobStageWindow(size int) *jobStageWindow {
	if size <= 0 {
		size = 256
	}
	return &jobStageWindow{
		size:       size,
		rings:      make(map[string]*stageRing),
		indicators: make(map[string]int),
	}
}

func (w *jobStageWindow) Observe(stage string, ms float64) {
	if w == nil || stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.rings[stage]
	if !ok {
		ring = &stageRing{values: make([]float64, w.size)}
		w.rings[stage] = ring
	}
	ring.push(ms)
}

func (w *jobStageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *jobStageWindow) Snapshot() JobStageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := JobStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]JobStageStats, 0, len(w.rings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		ring := w.rings[stage]
		values := ring.samples()
		if len(values) == 0 {
			continue
		}
		slices.Sort(values)
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		snap.Stages = append(snap.Stages, JobStageStats{
			Stage:       stage,
			Samples:     len(values),
			LastMS:      round2(ring.last),
			AvgMS:       round2(sum / float64(len(values))),
			P50MS:       round2(quantile(values, 0.50)),
			P95MS:       round2(quantile(values, 0.95)),
			MaxMS:       round2(values[len(values)-1]),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		if count := w.indicators[name]; count > 0 {
			snap.Indicators = append(snap.Indicators, JobIndicator{Name: name, Count: count})
		}
	}
	return snap
}

func (w *jobStageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rings = make(map[string]*stageRing)
	w.indicators = make(map[string]int)
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(idx)), int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StageQueueWait:
		return 600
	case StageLaunch:
		return 50
	case StageCleanup:
		return 20
	default:
		return 0
	}
}
