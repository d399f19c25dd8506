package shepherd

import (
	"fmt"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labels"
)

// TransformFunc mutates the voxels of a single block. It receives the
// block's inclusive bounds, its voxel buffer, the effective chance computed
// from the worker's configuration and, if the worker requested one, a
// Neighborhood for cross-block access. The returned result lists the label
// deltas to stage and which arrays of the focal buffer were modified
// directly.
//
// A transform must not retain the buffer or the Neighborhood beyond the
// call: both are only valid while the block is being processed.
type TransformFunc func(min, max grid.Pos, buf *VoxelBuffer, chance float64, n *Neighborhood) TransformResult

// TransformResult reports what a transform did to the focal block.
type TransformResult struct {
	// AddLabels and RemoveLabels are staged on the block's label store
	// after the transform returns. Deltas from all workers run against the
	// same block accumulate before a single commit.
	AddLabels, RemoveLabels []string
	// NodesChanged, LightChanged and SecondaryChanged flag direct
	// modifications of the focal buffer's arrays. Writes made through a
	// Neighborhood are tracked automatically and need not be reported.
	NodesChanged, LightChanged, SecondaryChanged bool
}

func (r TransformResult) changed() ChangedArrays {
	return ChangedArrays{Nodes: r.NodesChanged, Light: r.LightChanged, Secondary: r.SecondaryChanged}
}

// CatchUpFunc overrides the linear backlog compensation of an overdue
// worker. It receives the configured chance, the elapsed simulation time
// since the oldest rework label and the configured interval, and returns
// the effective chance to use.
type CatchUpFunc func(chance float64, elapsed, workEvery int64) float64

// Worker is a registered transformation: an eligibility predicate over
// block labels, a transform function and a timing policy. Workers are
// immutable after registration.
type Worker struct {
	// Name uniquely identifies the worker. Registering a second worker
	// with the same name is a configuration error.
	Name string
	// Transform is the function run against each eligible block.
	Transform TransformFunc
	// NeededLabels must all be present on a block for the worker to run.
	NeededLabels []string
	// HasOneOf requires at least one of its tags to be present. An empty
	// set matches vacuously.
	HasOneOf []string
	// ReworkLabels are the tags whose timestamps gate re-running the
	// worker on a block it has visited before.
	ReworkLabels []string
	// WorkEvery is the minimum simulation time in seconds between runs on
	// the same block, measured against the oldest matching rework label.
	// Zero disables the timing gate.
	WorkEvery int64
	// Chance is passed through to the transform, typically as a per-voxel
	// probability. Zero is treated as 1.0, so that the zero value of
	// Worker runs unconditionally.
	Chance float64
	// CatchUp enables linear backlog compensation: when a block's last run
	// is overdue, the chance is scaled by elapsed/WorkEvery.
	CatchUp bool
	// CatchUpFunc, if set, fully overrides the linear scaling.
	CatchUpFunc CatchUpFunc
	// WantsNeighborhood requests a Neighborhood to be passed to the
	// transform, giving it read/write access to the 26 neighbouring
	// blocks.
	WantsNeighborhood bool
}

// chance returns the configured chance with the zero-value default applied.
func (w *Worker) chance() float64 {
	if w.Chance == 0 {
		return 1.0
	}
	return w.Chance
}

// eligible reports whether the worker should run against a block with the
// label store passed at the simulation time passed.
func (w *Worker) eligible(store *labels.Store, now int64) bool {
	if !store.ContainsAll(w.NeededLabels...) || !store.ContainsAny(w.HasOneOf...) {
		return false
	}
	if w.WorkEvery > 0 {
		if oldest, ok := store.Oldest(w.ReworkLabels...); ok {
			// The bootstrap case, with no rework labels present yet,
			// allows the run.
			if now-oldest.Timestamp <= w.WorkEvery {
				return false
			}
		}
	}
	return true
}

// effectiveChance returns the chance to pass to the transform, applying
// catch-up compensation when the worker is overdue on the block.
func (w *Worker) effectiveChance(store *labels.Store, now int64) float64 {
	c := w.chance()
	if w.WorkEvery <= 0 || (!w.CatchUp && w.CatchUpFunc == nil) {
		return c
	}
	oldest, ok := store.Oldest(w.ReworkLabels...)
	if !ok {
		return c
	}
	elapsed := now - oldest.Timestamp
	if w.CatchUpFunc != nil {
		return w.CatchUpFunc(c, elapsed, w.WorkEvery)
	}
	if scaled := c * float64(elapsed) / float64(w.WorkEvery); scaled > c {
		if scaled > 1 {
			return 1
		}
		return scaled
	}
	return c
}

// validate checks a worker definition at registration time. All referenced
// tags must already be registered on the Shepherd.
func (s *Shepherd) validateWorker(w Worker) error {
	if w.Name == "" {
		return fmt.Errorf("register worker: name must not be empty")
	}
	if _, ok := s.workerNames[w.Name]; ok {
		return fmt.Errorf("register worker %q: name already registered", w.Name)
	}
	if w.Transform == nil {
		return fmt.Errorf("register worker %q: transform must not be nil", w.Name)
	}
	if w.Chance < 0 || w.Chance > 1 {
		return fmt.Errorf("register worker %q: chance %v outside [0,1]", w.Name, w.Chance)
	}
	if w.WorkEvery < 0 {
		return fmt.Errorf("register worker %q: negative work interval %d", w.Name, w.WorkEvery)
	}
	for _, set := range [][]string{w.NeededLabels, w.HasOneOf, w.ReworkLabels} {
		for _, tag := range set {
			if !s.tagRegistered(tag) {
				return fmt.Errorf("register worker %q: tag %q is not registered", w.Name, tag)
			}
		}
	}
	return nil
}
