package shepherd

import (
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
)

// neighborPool is the bounded pool of neighbour block buffers shared by all
// workers within a processing round. Entries are loaded lazily on first
// access and evicted least-recently-touched first once the pool reaches
// capacity, after flushing any dirty arrays. The pool is flushed and
// cleared wholesale when the round completes.
//
// Eviction is deliberately explicit and deterministic: entries must survive
// for a predictable scope for the "load once, reuse across neighbours"
// strategy to pay off, so nothing here is left to the garbage collector.
type neighborPool struct {
	world    World
	capacity int
	entries  map[grid.Identity]*poolEntry
	seq      uint64
	metrics  *metrics
}

type poolEntry struct {
	pos grid.BlockPos
	buf *VoxelBuffer
	// lastTouched is a monotonic access counter, not wall time: it only
	// has to order accesses within a round.
	lastTouched uint64
}

func newNeighborPool(world World, capacity int, m *metrics) *neighborPool {
	return &neighborPool{
		world:    world,
		capacity: capacity,
		entries:  make(map[grid.Identity]*poolEntry, capacity),
		metrics:  m,
	}
}

// get returns the cached buffer of the block at the coordinate passed,
// loading it from the world on a miss. The second return value is false if
// the world cannot supply the block.
func (p *neighborPool) get(pos grid.BlockPos) (*VoxelBuffer, bool) {
	id := grid.PublicEncode(pos)
	if e, ok := p.entries[id]; ok {
		p.seq++
		e.lastTouched = p.seq
		p.metrics.cacheHit()
		return e.buf, true
	}
	p.metrics.cacheMiss()

	buf, ok := p.world.ReadRegion(grid.BoundsOf(pos))
	if !ok {
		return nil, false
	}
	if len(p.entries) >= p.capacity {
		p.evictOldest()
	}
	p.seq++
	p.entries[id] = &poolEntry{pos: pos, buf: buf, lastTouched: p.seq}
	return buf, true
}

// evictOldest flushes and drops the least-recently-touched entry.
func (p *neighborPool) evictOldest() {
	var (
		oldestID grid.Identity
		oldest   *poolEntry
	)
	for id, e := range p.entries {
		if oldest == nil || e.lastTouched < oldest.lastTouched {
			oldestID, oldest = id, e
		}
	}
	if oldest == nil {
		return
	}
	p.flush(oldest.buf)
	delete(p.entries, oldestID)
	p.metrics.cacheEviction()
}

// flush writes back the dirty arrays of a buffer, if any, and marks it
// clean. It reports whether anything was written. The world's post-write
// consistency pass runs exactly once per flush that wrote something.
func (p *neighborPool) flush(buf *VoxelBuffer) bool {
	changed := buf.Dirty()
	if !changed.Any() {
		return false
	}
	p.world.WriteRegion(buf, changed)
	buf.clean()
	p.metrics.cacheFlush()
	return true
}

// commitAll flushes every buffer in the pool and returns the number of
// buffers that had dirty arrays.
func (p *neighborPool) commitAll() int {
	flushed := 0
	for _, e := range p.entries {
		if p.flush(e.buf) {
			flushed++
		}
	}
	return flushed
}

// clear empties the pool. Callers flush first if the contents matter.
func (p *neighborPool) clear() {
	clear(p.entries)
}

// discard drops the entry for a block without flushing it, used when the
// world reports the block unloaded: writing back to a block the world no
// longer holds would be a correctness bug, so its cached buffer is simply
// abandoned.
func (p *neighborPool) discard(id grid.Identity) {
	delete(p.entries, id)
}

// release flushes and drops the pooled entry for a block, if present. The
// execution loop calls it before loading a block as a focal item: neighbour
// writes from earlier items in the round must land before the focal load,
// and the pooled copy must not survive to overwrite the focal write-back
// when the round ends.
func (p *neighborPool) release(id grid.Identity) {
	if e, ok := p.entries[id]; ok {
		p.flush(e.buf)
		delete(p.entries, id)
	}
}

// Neighborhood gives a transform read/write access to voxels at arbitrary
// absolute positions within one block of the focal block, transparently
// resolving whether a position falls in the focal buffer or one of the 26
// neighbours and loading neighbour data on demand through the shared pool.
//
// A Neighborhood is only valid during the transform invocation it was
// created for. Buffers obtained through it are shared mutable state: a
// later worker in the same round may observe and overwrite values written
// here.
type Neighborhood struct {
	pool     *neighborPool
	focalPos grid.BlockPos
	focalMin grid.Pos
	focal    *VoxelBuffer
}

// Decompose splits an absolute position into the block offset relative to
// the focal block, each axis in {-1, 0, 1}, and the flat voxel index within
// that block. The third return value is false for positions outside the
// 3x3x3 neighbourhood of the focal block, for which the decomposition is
// undefined.
func (n *Neighborhood) Decompose(p grid.Pos) (grid.BlockPos, int, bool) {
	rel := p.Sub(n.focalMin)
	offset := grid.CoordinateOf(rel)
	for i := 0; i < 3; i++ {
		if offset[i] < -1 || offset[i] > 1 {
			return grid.BlockPos{}, 0, false
		}
	}
	local := rel.Sub(grid.OriginOf(offset))
	return offset, grid.Index(local), true
}

// resolve returns the buffer holding the block at the offset passed. The
// zero offset resolves to the caller-owned focal buffer and never loads
// anything: if no focal buffer was supplied, the result is absent rather
// than a silently allocated one.
func (n *Neighborhood) resolve(offset grid.BlockPos) (*VoxelBuffer, bool) {
	if offset == (grid.BlockPos{}) {
		return n.focal, n.focal != nil
	}
	return n.pool.get(n.focalPos.Add(offset))
}

// buffer resolves an absolute position to the buffer containing it and the
// flat index within that buffer.
func (n *Neighborhood) buffer(p grid.Pos) (*VoxelBuffer, int, bool) {
	offset, idx, ok := n.Decompose(p)
	if !ok {
		return nil, 0, false
	}
	buf, ok := n.resolve(offset)
	if !ok {
		return nil, 0, false
	}
	return buf, idx, true
}

// Node returns the node at an absolute position. The second return value is
// false if the position cannot be resolved.
func (n *Neighborhood) Node(p grid.Pos) (NodeID, bool) {
	buf, idx, ok := n.buffer(p)
	if !ok {
		return 0, false
	}
	return buf.NodeAt(idx), true
}

// SetNode writes the node at an absolute position, marking the resolved
// buffer's node array dirty. It reports whether the write was applied.
func (n *Neighborhood) SetNode(p grid.Pos, v NodeID) bool {
	buf, idx, ok := n.buffer(p)
	if !ok {
		return false
	}
	buf.SetNodeAt(idx, v)
	return true
}

// Light returns the light value at an absolute position.
func (n *Neighborhood) Light(p grid.Pos) (uint8, bool) {
	buf, idx, ok := n.buffer(p)
	if !ok {
		return 0, false
	}
	return buf.LightAt(idx), true
}

// SetLight writes the light value at an absolute position.
func (n *Neighborhood) SetLight(p grid.Pos, v uint8) bool {
	buf, idx, ok := n.buffer(p)
	if !ok {
		return false
	}
	buf.SetLightAt(idx, v)
	return true
}

// Secondary returns the secondary parameter at an absolute position.
func (n *Neighborhood) Secondary(p grid.Pos) (uint8, bool) {
	buf, idx, ok := n.buffer(p)
	if !ok {
		return 0, false
	}
	return buf.SecondaryAt(idx), true
}

// SetSecondary writes the secondary parameter at an absolute position.
func (n *Neighborhood) SetSecondary(p grid.Pos, v uint8) bool {
	buf, idx, ok := n.buffer(p)
	if !ok {
		return false
	}
	buf.SetSecondaryAt(idx, v)
	return true
}

// CommitAll flushes every neighbour buffer currently held by the shared
// pool and returns the number flushed. The focal buffer is owned by the
// execution loop and written back separately.
func (n *Neighborhood) CommitAll() int {
	return n.pool.commitAll()
}
