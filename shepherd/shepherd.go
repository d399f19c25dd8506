// Package shepherd implements an incremental block processing engine for a
// partitioned voxel world. Blocks carry durable labels describing the
// states they are in; registered workers declare which labels make a block
// eligible for their transformation and how often it should be revisited.
// Lifecycle events from the host world feed a priority queue of pending
// blocks, which a tick-driven execution loop drains under a time budget,
// running eligible workers, committing label deltas and writing modified
// voxels back. A shared, eviction-bounded cache lets transforms reach into
// neighbouring blocks without reloading them for every access.
package shepherd

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labels"
)

// Shepherd schedules and executes block transformations. All state is owned
// by a single logical tick thread: event intake and ticking serialise on an
// internal mutex, and a busy flag prevents overlapping tick invocations
// scheduled by timers. There is no parallel execution of workers.
type Shepherd struct {
	conf  Config
	log   *slog.Logger
	world World
	kv    labels.KV

	mu          sync.Mutex
	tags        map[string]struct{}
	workers     []*Worker
	workerNames map[string]*Worker
	// fingerprint hashes the registered worker set. It changes whenever a
	// worker is added or removed, which invalidates the queue.
	fingerprint     uint64
	registryChanged bool

	queue *blockQueue
	pool  *neighborPool

	busy    atomic.Bool
	closing chan struct{}
	running sync.WaitGroup
	o       sync.Once

	metrics *metrics
}

// RegisterTags adds tags to the process-wide registered-tag set of this
// Shepherd. Workers and transforms may only reference registered tags.
func (s *Shepherd) RegisterTags(tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		s.tags[tag] = struct{}{}
	}
}

// TagRegistered reports whether a tag has been registered.
func (s *Shepherd) TagRegistered(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagRegistered(tag)
}

func (s *Shepherd) tagRegistered(tag string) bool {
	_, ok := s.tags[tag]
	return ok
}

// RegisterWorker registers a worker. The definition is validated eagerly:
// an empty or duplicate name, a nil transform, an out-of-range chance or a
// reference to an unregistered tag aborts this registration with an error
// and leaves the rest of the system untouched. A successful registration
// marks the worker set changed, which resets the block queue on the next
// tick.
func (s *Shepherd) RegisterWorker(w Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateWorker(w); err != nil {
		return err
	}
	reg := w
	s.workers = append(s.workers, &reg)
	s.workerNames[reg.Name] = &reg
	s.registryRecompute()
	return nil
}

// UnregisterWorker removes the worker with the name passed and reports
// whether it was registered. Removal marks the worker set changed.
func (s *Shepherd) UnregisterWorker(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workerNames[name]; !ok {
		return false
	}
	delete(s.workerNames, name)
	for i, w := range s.workers {
		if w.Name == name {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
	s.registryRecompute()
	return true
}

// registryRecompute rehashes the worker set and flags the change. The hash
// is over the sorted worker names, so the same set always produces the same
// fingerprint regardless of registration order.
func (s *Shepherd) registryRecompute() {
	names := make([]string, 0, len(s.workers))
	for _, w := range s.workers {
		names = append(names, w.Name)
	}
	sort.Strings(names)
	h := xxhash.New()
	for _, name := range names {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0})
	}
	if sum := h.Sum64(); sum != s.fingerprint {
		s.fingerprint = sum
		s.registryChanged = true
	}
}

// WorkerCount returns the number of registered workers.
func (s *Shepherd) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// BlockLoaded tells the Shepherd that the host world loaded a block. The
// block is queued at loaded priority.
func (s *Shepherd) BlockLoaded(c grid.BlockPos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.push(c, priorityLoaded)
	s.metrics.setTracked(s.queue.len())
}

// BlockActivated tells the Shepherd that a block entered the active part of
// the world. The block is queued at active priority, promoting it to the
// front of the active segment if it was already queued.
func (s *Shepherd) BlockActivated(c grid.BlockPos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.push(c, priorityActive)
	s.metrics.setTracked(s.queue.len())
}

// BlocksDeactivated tells the Shepherd that blocks left the active part of
// the world. Queued blocks are demoted to loaded priority; they are not
// removed.
func (s *Shepherd) BlocksDeactivated(cs []grid.BlockPos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		s.queue.demote(c)
	}
}

// BlocksUnloaded tells the Shepherd that blocks were unloaded. They are
// dropped from the queue and any cached neighbour buffers for them are
// discarded without write-back, since the world no longer holds the blocks.
func (s *Shepherd) BlocksUnloaded(cs []grid.BlockPos) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		s.queue.remove(c)
		s.pool.discard(grid.PublicEncode(c))
	}
	s.metrics.setTracked(s.queue.len())
}

// TrackedBlockCount returns the number of blocks currently queued. It backs
// the administrative status surface.
func (s *Shepherd) TrackedBlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Labels loads and returns the label store of the block at the coordinate
// passed, for inspection by the administrative surface. The returned store
// is a transient snapshot; mutating it has no effect on the engine. The
// load is serialised with ticking, so it is safe to call while Run is
// driving the engine.
func (s *Shepherd) Labels(c grid.BlockPos) *labels.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return labels.Load(s.kv, grid.InternalKey(c))
}

// Close stops the tick loop, flushes any dirty neighbour buffers and
// returns once the loop goroutine has finished.
func (s *Shepherd) Close() error {
	s.o.Do(func() {
		close(s.closing)
	})
	s.running.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.commitAll()
	s.pool.clear()
	return nil
}
