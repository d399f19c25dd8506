package shepherd

import (
	"time"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labels"
)

// Run starts ticking the Shepherd at the configured interval and blocks
// until Close is called. It is typically run in its own goroutine; the tick
// work itself stays single-threaded.
func (s *Shepherd) Run() {
	s.running.Add(1)
	defer s.running.Done()

	t := time.NewTicker(s.conf.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Tick()
		case <-s.closing:
			return
		}
	}
}

// Tick performs one scheduling tick: it refreshes the worker set, drains
// the block queue within the configured time budget and completes the
// round when the queue empties. If a previous tick is still running, the
// call is dropped rather than overlapping it.
func (s *Shepherd) Tick() {
	if !s.busy.CompareAndSwap(false, true) {
		// A previous invocation is still running; never re-enter.
		return
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()
}

func (s *Shepherd) tick() {
	if s.registryChanged {
		s.roundReset(true)
		s.registryChanged = false
	}
	if s.queue.len() == 0 {
		// Idle: nothing to do this tick.
		return
	}

	start := time.Now()
	now := s.world.Time()
	for {
		item, ok := s.queue.pop()
		if !ok {
			break
		}
		if !s.world.BlockLoaded(item.pos) {
			// The block unloaded while queued; drop the item.
			s.metrics.itemSkipped()
			continue
		}
		s.processItem(item, now)
		s.metrics.itemProcessed()
		if time.Since(start) >= s.conf.TimeBudget {
			// Budget exhausted. At least one item was processed, so
			// forward progress is guaranteed even if a single block
			// exceeds the whole budget.
			break
		}
	}
	s.metrics.drainObserved(time.Since(start))
	s.metrics.setTracked(s.queue.len())

	if s.queue.len() == 0 {
		// The round is complete: every pending block has been handled
		// since the queue last became empty.
		s.roundReset(false)
		s.metrics.roundCompleted()
	}
}

// roundReset flushes and clears the neighbour pool and, when the worker set
// changed, rebuilds the queue from the world's loaded blocks if it can
// enumerate them.
func (s *Shepherd) roundReset(rescan bool) {
	s.pool.commitAll()
	s.pool.clear()
	if !rescan {
		return
	}
	s.queue.reset()
	if lister, ok := s.world.(LoadedLister); ok {
		for _, c := range lister.LoadedBlocks() {
			s.queue.push(c, priorityLoaded)
		}
		s.log.Debug("shepherd: queue rebuilt after worker registry change", "blocks", s.queue.len())
	}
}

// processItem runs all eligible workers against one block. Every matching
// worker operates on the same loaded voxel buffer; label deltas accumulate
// and are committed and saved once, and the buffer is written back once.
func (s *Shepherd) processItem(item workItem, now int64) {
	store := labels.Load(s.kv, grid.KeyOf(item.id))

	eligible := s.eligibleWorkers(store, now)
	if len(eligible) == 0 {
		return
	}

	// An earlier item this round may have written into this block through
	// its neighbourhood, leaving a dirty buffer in the pool. Flush and drop
	// it so the focal load observes those writes and the pooled copy cannot
	// clobber the focal write-back at round end.
	s.pool.release(item.id)

	min, max := grid.BoundsOf(item.pos)
	buf, ok := s.world.ReadRegion(min, max)
	if !ok {
		// Loaded a moment ago but gone now; treat like an unload.
		s.metrics.itemSkipped()
		return
	}

	for _, w := range eligible {
		var n *Neighborhood
		if w.WantsNeighborhood {
			n = &Neighborhood{pool: s.pool, focalPos: item.pos, focalMin: min, focal: buf}
		}
		res, ok := s.invoke(w, min, max, buf, w.effectiveChance(store, now), n)
		if !ok {
			continue
		}
		s.stage(store, w, res)
		buf.Mark(res.changed())
	}

	if store.Commit(now) {
		if err := store.Save(s.kv); err != nil {
			s.log.Error("shepherd: saving labels failed", "block", item.pos, "error", err)
		}
	}
	if changed := buf.Dirty(); changed.Any() {
		s.world.WriteRegion(buf, changed)
		buf.clean()
	}
}

// eligibleWorkers returns the workers that should run against a block, in
// registration order.
func (s *Shepherd) eligibleWorkers(store *labels.Store, now int64) []*Worker {
	var eligible []*Worker
	for _, w := range s.workers {
		if w.eligible(store, now) {
			eligible = append(eligible, w)
		}
	}
	return eligible
}

// invoke runs a single transform with panic containment. A panicking worker
// is logged and its result discarded; the tick continues with the next
// worker and item, so one broken transform cannot take the engine down.
func (s *Shepherd) invoke(w *Worker, min, max grid.Pos, buf *VoxelBuffer, chance float64, n *Neighborhood) (res TransformResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("shepherd: worker panicked", "worker", w.Name, "block", grid.CoordinateOf(min), "error", r)
			s.metrics.workerPanicked()
			res, ok = TransformResult{}, false
		}
	}()
	return w.Transform(min, max, buf, chance, n), true
}

// stage applies a transform's label deltas to the store, dropping any
// unregistered tag with an error log: transforms referencing unknown tags
// are configuration errors, caught here instead of polluting storage.
func (s *Shepherd) stage(store *labels.Store, w *Worker, res TransformResult) {
	for _, tag := range res.AddLabels {
		if !s.tagRegistered(tag) {
			s.log.Error("shepherd: transform added unregistered tag", "worker", w.Name, "tag", tag)
			continue
		}
		store.StageAdd(tag)
	}
	for _, tag := range res.RemoveLabels {
		if !s.tagRegistered(tag) {
			s.log.Error("shepherd: transform removed unregistered tag", "worker", w.Name, "tag", tag)
			continue
		}
		store.StageRemove(tag)
	}
}
