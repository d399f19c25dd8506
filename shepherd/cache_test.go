package shepherd

import (
	"testing"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
)

// testWorld is a minimal World backed by a map of canonical buffers. Reads
// hand out copies and writes copy flagged arrays back, like a real host
// engine would.
type testWorld struct {
	blocks map[grid.BlockPos]*VoxelBuffer
	writes map[grid.BlockPos]int
	time   int64
}

func newTestWorld(blocks ...grid.BlockPos) *testWorld {
	w := &testWorld{
		blocks: make(map[grid.BlockPos]*VoxelBuffer),
		writes: make(map[grid.BlockPos]int),
	}
	for _, c := range blocks {
		w.blocks[c] = NewVoxelBuffer(c)
	}
	return w
}

func (w *testWorld) ReadRegion(min, max grid.Pos) (*VoxelBuffer, bool) {
	c := grid.CoordinateOf(min)
	if bmin, bmax := grid.BoundsOf(c); min != bmin || max != bmax {
		return nil, false
	}
	b, ok := w.blocks[c]
	if !ok {
		return nil, false
	}
	buf := NewVoxelBuffer(c)
	copy(buf.Nodes, b.Nodes)
	copy(buf.Light, b.Light)
	copy(buf.Secondary, b.Secondary)
	return buf, true
}

func (w *testWorld) WriteRegion(buf *VoxelBuffer, changed ChangedArrays) {
	c := grid.CoordinateOf(buf.Min)
	b, ok := w.blocks[c]
	if !ok {
		return
	}
	if changed.Nodes {
		copy(b.Nodes, buf.Nodes)
	}
	if changed.Light {
		copy(b.Light, buf.Light)
	}
	if changed.Secondary {
		copy(b.Secondary, buf.Secondary)
	}
	w.writes[c]++
}

func (w *testWorld) BlockLoaded(c grid.BlockPos) bool {
	_, ok := w.blocks[c]
	return ok
}

func (w *testWorld) Time() int64 { return w.time }

func (w *testWorld) LoadedBlocks() []grid.BlockPos {
	var all []grid.BlockPos
	for c := range w.blocks {
		all = append(all, c)
	}
	return all
}

func neighborhoodOf(w *testWorld, focal grid.BlockPos, capacity int) (*Neighborhood, *neighborPool) {
	pool := newNeighborPool(w, capacity, nil)
	min, _ := grid.BoundsOf(focal)
	buf, _ := w.ReadRegion(grid.BoundsOf(focal))
	return &Neighborhood{pool: pool, focalPos: focal, focalMin: min, focal: buf}, pool
}

func TestNeighborhoodDecompose(t *testing.T) {
	n := &Neighborhood{focalMin: grid.Pos{16, 32, -16}}
	cases := []struct {
		p      grid.Pos
		offset grid.BlockPos
		index  int
		ok     bool
	}{
		{grid.Pos{16, 32, -16}, grid.BlockPos{0, 0, 0}, 0, true},
		{grid.Pos{31, 47, -1}, grid.BlockPos{0, 0, 0}, grid.Volume - 1, true},
		{grid.Pos{15, 32, -16}, grid.BlockPos{-1, 0, 0}, grid.Index(grid.Pos{15, 0, 0}), true},
		{grid.Pos{32, 48, 0}, grid.BlockPos{1, 1, 1}, 0, true},
		{grid.Pos{48, 32, -16}, grid.BlockPos{}, 0, false},
		{grid.Pos{16, 32, -49}, grid.BlockPos{}, 0, false},
	}
	for _, c := range cases {
		offset, index, ok := n.Decompose(c.p)
		if ok != c.ok || offset != c.offset || index != c.index {
			t.Fatalf("Decompose(%v) = %v, %d, %v, want %v, %d, %v", c.p, offset, index, ok, c.offset, c.index, c.ok)
		}
		if !ok {
			continue
		}
		// Recomposing from focal origin, offset and index reproduces the
		// position exactly.
		back := n.focalMin.Add(grid.OriginOf(offset)).Add(grid.Unindex(index))
		if back != c.p {
			t.Fatalf("recomposed %v from Decompose(%v)", back, c.p)
		}
	}
}

func TestNeighborhoodFocalAccess(t *testing.T) {
	focal := grid.BlockPos{0, 0, 0}
	w := newTestWorld(focal)
	n, _ := neighborhoodOf(w, focal, 4)

	p := grid.Pos{3, 4, 5}
	if !n.SetNode(p, 7) {
		t.Fatalf("focal write rejected")
	}
	if v, ok := n.Node(p); !ok || v != 7 {
		t.Fatalf("focal read: got %d, %v", v, ok)
	}
	// Focal writes land in the focal buffer, not the pool.
	if got := n.focal.NodeAt(grid.Index(p)); got != 7 {
		t.Fatalf("focal buffer not updated, got %d", got)
	}
	if !n.focal.Dirty().Nodes {
		t.Fatalf("focal node array not marked dirty")
	}
}

func TestNeighborhoodAbsentFocal(t *testing.T) {
	w := newTestWorld(grid.BlockPos{0, 0, 0})
	pool := newNeighborPool(w, 4, nil)
	n := &Neighborhood{pool: pool, focalPos: grid.BlockPos{0, 0, 0}, focalMin: grid.Pos{0, 0, 0}}
	if _, ok := n.Node(grid.Pos{1, 1, 1}); ok {
		t.Fatalf("read through absent focal buffer must fail")
	}
	if n.SetNode(grid.Pos{1, 1, 1}, 3) {
		t.Fatalf("write through absent focal buffer must fail")
	}
}

func TestNeighborhoodNeighborCaching(t *testing.T) {
	focal := grid.BlockPos{0, 0, 0}
	neighbor := grid.BlockPos{1, 0, 0}
	w := newTestWorld(focal, neighbor)
	w.blocks[neighbor].Nodes[0] = 9
	n, pool := neighborhoodOf(w, focal, 4)

	p := grid.Pos{16, 0, 0} // first voxel of the +X neighbour
	if v, ok := n.Node(p); !ok || v != 9 {
		t.Fatalf("neighbour read: got %d, %v", v, ok)
	}
	// Mutate the world behind the pool's back; the cached buffer must be
	// served as-is within the round.
	w.blocks[neighbor].Nodes[0] = 1
	if v, _ := n.Node(p); v != 9 {
		t.Fatalf("expected cached value 9, got %d", v)
	}
	if len(pool.entries) != 1 {
		t.Fatalf("expected 1 pooled entry, got %d", len(pool.entries))
	}
}

func TestNeighborhoodMissingNeighbor(t *testing.T) {
	focal := grid.BlockPos{0, 0, 0}
	w := newTestWorld(focal)
	n, _ := neighborhoodOf(w, focal, 4)
	if _, ok := n.Node(grid.Pos{-1, 0, 0}); ok {
		t.Fatalf("read from an unsupplied neighbour must fail")
	}
}

func TestPoolEvictionFlushesLeastRecentlyUsed(t *testing.T) {
	focal := grid.BlockPos{0, 0, 0}
	a, b, c := grid.BlockPos{1, 0, 0}, grid.BlockPos{0, 1, 0}, grid.BlockPos{0, 0, 1}
	w := newTestWorld(focal, a, b, c)
	n, pool := neighborhoodOf(w, focal, 2)

	// Dirty a, then touch b; loading c must evict a (the least recently
	// touched) and flush its write.
	if !n.SetNode(grid.Pos{16, 0, 0}, 5) {
		t.Fatalf("write into neighbour a rejected")
	}
	if _, ok := n.Node(grid.Pos{0, 16, 0}); !ok {
		t.Fatalf("read from neighbour b failed")
	}
	if _, ok := n.Node(grid.Pos{0, 0, 16}); !ok {
		t.Fatalf("read from neighbour c failed")
	}

	if len(pool.entries) != 2 {
		t.Fatalf("pool over capacity: %d entries", len(pool.entries))
	}
	if _, ok := pool.entries[grid.PublicEncode(a)]; ok {
		t.Fatalf("expected a evicted")
	}
	if w.writes[a] != 1 {
		t.Fatalf("expected exactly 1 flush of a, got %d", w.writes[a])
	}
	if w.blocks[a].Nodes[0] != 5 {
		t.Fatalf("evicted write lost, got %d", w.blocks[a].Nodes[0])
	}
	// b was clean, so its eventual eviction must not write.
	if w.writes[b] != 0 {
		t.Fatalf("clean buffer flushed, %d writes", w.writes[b])
	}
}

func TestPoolCommitAllFlushesOnlyDirty(t *testing.T) {
	focal := grid.BlockPos{0, 0, 0}
	a, b := grid.BlockPos{1, 0, 0}, grid.BlockPos{-1, 0, 0}
	w := newTestWorld(focal, a, b)
	n, pool := neighborhoodOf(w, focal, 4)

	n.SetLight(grid.Pos{16, 0, 0}, 12)     // dirty a
	n.Node(grid.Pos{-16, 0, 0})            // clean read of b
	if flushed := n.CommitAll(); flushed != 1 {
		t.Fatalf("expected 1 flushed buffer, got %d", flushed)
	}
	if w.writes[a] != 1 || w.writes[b] != 0 {
		t.Fatalf("unexpected writes: a=%d b=%d", w.writes[a], w.writes[b])
	}
	if w.blocks[a].Light[0] != 12 {
		t.Fatalf("light write lost")
	}
	// A second commit with nothing newly dirtied writes nothing.
	if flushed := pool.commitAll(); flushed != 0 {
		t.Fatalf("expected idempotent commit, flushed %d", flushed)
	}
}

func TestPoolReleaseFlushesAndDrops(t *testing.T) {
	focal := grid.BlockPos{0, 0, 0}
	a := grid.BlockPos{1, 0, 0}
	w := newTestWorld(focal, a)
	n, pool := neighborhoodOf(w, focal, 4)

	n.SetNode(grid.Pos{16, 0, 0}, 9)
	pool.release(grid.PublicEncode(a))
	if w.writes[a] != 1 || w.blocks[a].Nodes[0] != 9 {
		t.Fatalf("release did not flush: writes=%d node=%d", w.writes[a], w.blocks[a].Nodes[0])
	}
	if _, ok := pool.entries[grid.PublicEncode(a)]; ok {
		t.Fatalf("released entry still pooled")
	}
	// Releasing an unpooled block is a no-op.
	pool.release(grid.PublicEncode(a))
	if w.writes[a] != 1 {
		t.Fatalf("release of absent entry wrote, writes=%d", w.writes[a])
	}
}

func TestPoolDiscardSkipsFlush(t *testing.T) {
	focal := grid.BlockPos{0, 0, 0}
	a := grid.BlockPos{1, 0, 0}
	w := newTestWorld(focal, a)
	n, pool := neighborhoodOf(w, focal, 4)

	n.SetNode(grid.Pos{16, 0, 0}, 3)
	pool.discard(grid.PublicEncode(a))
	if flushed := pool.commitAll(); flushed != 0 {
		t.Fatalf("discarded buffer still flushed")
	}
	if w.writes[a] != 0 {
		t.Fatalf("discarded buffer written back")
	}
}
