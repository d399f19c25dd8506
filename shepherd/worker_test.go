package shepherd

import (
	"log/slog"
	"testing"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labeldb"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labels"
)

// storeWith builds a label store with the tags passed committed at the
// timestamps passed, pairwise.
func storeWith(t *testing.T, tags []string, stamps []int64) *labels.Store {
	t.Helper()
	s := labels.Load(labeldb.NewMem(), "k")
	for i, tag := range tags {
		s.StageAdd(tag)
		s.Commit(stamps[i])
	}
	return s
}

func nopTransform(min, max grid.Pos, buf *VoxelBuffer, chance float64, n *Neighborhood) TransformResult {
	return TransformResult{}
}

func TestWorkerEligibilityLabels(t *testing.T) {
	s := storeWith(t, []string{"a", "b"}, []int64{0, 0})
	cases := []struct {
		name string
		w    Worker
		want bool
	}{
		{"vacuous", Worker{}, true},
		{"needed present", Worker{NeededLabels: []string{"a", "b"}}, true},
		{"needed missing", Worker{NeededLabels: []string{"a", "c"}}, false},
		{"one-of matches", Worker{HasOneOf: []string{"c", "b"}}, true},
		{"one-of empty", Worker{HasOneOf: nil}, true},
		{"one-of misses", Worker{HasOneOf: []string{"c", "d"}}, false},
	}
	for _, c := range cases {
		if got := c.w.eligible(s, 10); got != c.want {
			t.Fatalf("%s: eligible = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestWorkerTimingGate(t *testing.T) {
	s := storeWith(t, []string{"done"}, []int64{100})
	w := Worker{ReworkLabels: []string{"done"}, WorkEvery: 50}

	if w.eligible(s, 120) {
		t.Fatalf("eligible 20s after run with a 50s interval")
	}
	if w.eligible(s, 150) {
		t.Fatalf("eligible exactly at the interval boundary")
	}
	if !w.eligible(s, 151) {
		t.Fatalf("not eligible past the interval")
	}

	// Without the rework label the gate does not apply: a block never
	// visited is always due.
	fresh := labels.Load(labeldb.NewMem(), "k")
	if !w.eligible(fresh, 0) {
		t.Fatalf("bootstrap run blocked by the timing gate")
	}
}

func TestWorkerTimingGateOldestLabel(t *testing.T) {
	// The gate measures against the oldest of the rework labels, so a block
	// with one stale aspect is due even if another aspect is fresh.
	s := storeWith(t, []string{"stale", "fresh"}, []int64{0, 200})
	w := Worker{ReworkLabels: []string{"stale", "fresh"}, WorkEvery: 100}
	if !w.eligible(s, 201) {
		t.Fatalf("oldest label is 201s stale, worker must be eligible")
	}
}

func TestWorkerChanceDefault(t *testing.T) {
	w := Worker{}
	if got := w.chance(); got != 1.0 {
		t.Fatalf("zero chance must default to 1.0, got %v", got)
	}
	w.Chance = 0.25
	if got := w.chance(); got != 0.25 {
		t.Fatalf("chance = %v, want 0.25", got)
	}
}

func TestWorkerEffectiveChance(t *testing.T) {
	s := storeWith(t, []string{"done"}, []int64{0})
	w := Worker{ReworkLabels: []string{"done"}, WorkEvery: 100, Chance: 0.25}

	// Without catch-up the configured chance passes through unchanged, no
	// matter how overdue the block is.
	if got := w.effectiveChance(s, 1000); got != 0.25 {
		t.Fatalf("effectiveChance without catch-up = %v, want 0.25", got)
	}

	w.CatchUp = true
	// Two intervals elapsed: the chance scales linearly.
	if got := w.effectiveChance(s, 200); got != 0.5 {
		t.Fatalf("scaled chance = %v, want 0.5", got)
	}
	// Massively overdue: the scaled chance clamps at 1.
	if got := w.effectiveChance(s, 100000); got != 1 {
		t.Fatalf("clamped chance = %v, want 1", got)
	}
	// Not overdue: never scale below the configured chance.
	if got := w.effectiveChance(s, 50); got != 0.25 {
		t.Fatalf("under-interval chance = %v, want 0.25", got)
	}

	// A custom catch-up function replaces the linear rule entirely.
	w.CatchUpFunc = func(chance float64, elapsed, workEvery int64) float64 {
		return chance * float64(elapsed/workEvery)
	}
	if got := w.effectiveChance(s, 800); got != 2 {
		t.Fatalf("custom catch-up chance = %v, want 2", got)
	}
}

func TestRegisterWorkerValidation(t *testing.T) {
	w := newTestWorld(grid.BlockPos{0, 0, 0})
	s := Config{Log: slog.Default(), World: w}.New()
	s.RegisterTags("known")

	valid := Worker{Name: "ok", Transform: nopTransform, NeededLabels: []string{"known"}}
	if err := s.RegisterWorker(valid); err != nil {
		t.Fatalf("valid worker rejected: %v", err)
	}

	bad := []Worker{
		{Transform: nopTransform},                                              // empty name
		{Name: "ok", Transform: nopTransform},                                  // duplicate name
		{Name: "no-transform"},                                                 // nil transform
		{Name: "chancey", Transform: nopTransform, Chance: 1.5},                // chance out of range
		{Name: "backwards", Transform: nopTransform, WorkEvery: -1},            // negative interval
		{Name: "ghost", Transform: nopTransform, HasOneOf: []string{"absent"}}, // unregistered tag
	}
	for _, b := range bad {
		if err := s.RegisterWorker(b); err == nil {
			t.Fatalf("worker %+v accepted, want error", b)
		}
	}
	if got := s.WorkerCount(); got != 1 {
		t.Fatalf("failed registrations must not register, count = %d", got)
	}
}

func TestUnregisterWorker(t *testing.T) {
	w := newTestWorld()
	s := Config{Log: slog.Default(), World: w}.New()
	if err := s.RegisterWorker(Worker{Name: "a", Transform: nopTransform}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !s.UnregisterWorker("a") {
		t.Fatalf("expected removal of registered worker")
	}
	if s.UnregisterWorker("a") {
		t.Fatalf("removal of absent worker must report false")
	}
	if got := s.WorkerCount(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}
