package shepherd

import (
	"github.com/brentp/intintmap"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
)

// priority orders work items. Active blocks always drain before merely
// loaded blocks.
type priority int64

const (
	priorityNone priority = iota
	priorityLoaded
	priorityActive

	// priorityBits is the width of the priority field inside an index
	// stamp; the rest of the stamp holds the generation counter.
	priorityBits = 2
	priorityMask = 1<<priorityBits - 1
)

// workItem is a pending block inside the queue. It exists only between
// being enqueued and being dequeued for processing or dropped on unload.
type workItem struct {
	id  grid.Identity
	pos grid.BlockPos
	// stamp is the index value this entry was enqueued under. An entry
	// whose stamp no longer matches the index is stale and skipped at pop
	// time, so a block removed and enqueued again cannot be dequeued at
	// the slice position of its earlier entry.
	stamp int64
}

// blockQueue is a deduplicated, priority-segmented FIFO of pending blocks.
// Items are processed in discovery order within a priority tier; a block
// promoted from loaded to active moves to the front of the active segment,
// while demotion only downgrades future priority comparisons.
//
// The index maps each queued identity to a stamp packing a generation
// counter and the current priority. Segment slices may hold stale entries
// (for promoted, demoted, removed or re-enqueued blocks); those are
// detected and skipped at pop time by comparing stamps against the index,
// which always holds the truth.
type blockQueue struct {
	active, loaded []workItem
	index          *intintmap.Map
	count          int
	gen            int64
}

const queueIndexFillFactor = 0.6

func newBlockQueue() *blockQueue {
	return &blockQueue{index: intintmap.New(1024, queueIndexFillFactor)}
}

// stamp mints a fresh index stamp for the priority passed.
func (q *blockQueue) stamp(p priority) int64 {
	q.gen++
	return q.gen<<priorityBits | int64(p)
}

// priorityOf returns the current priority of an identity, or priorityNone
// if it is not queued.
func (q *blockQueue) priorityOf(id grid.Identity) priority {
	v, ok := q.index.Get(int64(id))
	if !ok {
		return priorityNone
	}
	return priority(v & priorityMask)
}

// push enqueues a block at the priority passed. Pushing an already queued
// block is idempotent; pushing an active priority for a block queued at
// loaded priority promotes it to the front of the active segment.
func (q *blockQueue) push(pos grid.BlockPos, p priority) {
	id := grid.PublicEncode(pos)
	cur := q.priorityOf(id)
	switch {
	case cur == priorityNone:
		st := q.stamp(p)
		q.index.Put(int64(id), st)
		q.count++
		item := workItem{id: id, pos: pos, stamp: st}
		if p == priorityActive {
			q.active = append(q.active, item)
		} else {
			q.loaded = append(q.loaded, item)
		}
	case cur == priorityLoaded && p == priorityActive:
		st := q.stamp(priorityActive)
		q.index.Put(int64(id), st)
		q.active = append([]workItem{{id: id, pos: pos, stamp: st}}, q.active...)
	}
}

// demote downgrades a queued active block to loaded priority. The block is
// not requeued: it keeps precedence over blocks discovered after it within
// the loaded tier.
func (q *blockQueue) demote(pos grid.BlockPos) {
	id := grid.PublicEncode(pos)
	if q.priorityOf(id) != priorityActive {
		return
	}
	st := q.stamp(priorityLoaded)
	q.index.Put(int64(id), st)
	q.loaded = append([]workItem{{id: id, pos: pos, stamp: st}}, q.loaded...)
}

// remove drops a block from the queue, if queued. The stale segment entry
// is skipped at pop time.
func (q *blockQueue) remove(pos grid.BlockPos) {
	id := grid.PublicEncode(pos)
	if q.priorityOf(id) == priorityNone {
		return
	}
	q.index.Put(int64(id), int64(priorityNone))
	q.count--
}

// pop dequeues the next block to process: the oldest valid entry of the
// active segment, or of the loaded segment if no active entries remain.
func (q *blockQueue) pop() (workItem, bool) {
	if item, ok := popSegment(&q.active, q.index); ok {
		q.index.Put(int64(item.id), int64(priorityNone))
		q.count--
		return item, true
	}
	if item, ok := popSegment(&q.loaded, q.index); ok {
		q.index.Put(int64(item.id), int64(priorityNone))
		q.count--
		return item, true
	}
	return workItem{}, false
}

// popSegment pops entries off the front of a segment until one carries the
// stamp the index holds for it, discarding stale entries along the way.
func popSegment(seg *[]workItem, index *intintmap.Map) (workItem, bool) {
	s := *seg
	for len(s) > 0 {
		item := s[0]
		s = s[1:]
		if v, ok := index.Get(int64(item.id)); ok && v == item.stamp {
			*seg = s
			return item, true
		}
	}
	*seg = s
	return workItem{}, false
}

// len returns the number of logically queued blocks.
func (q *blockQueue) len() int { return q.count }

// reset discards the whole queue, used when the worker registry changes.
func (q *blockQueue) reset() {
	q.active, q.loaded = nil, nil
	q.index = intintmap.New(1024, queueIndexFillFactor)
	q.count = 0
}
