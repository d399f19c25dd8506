package shepherd

import (
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
)

// NodeID identifies a voxel (node) type. The zero value is air.
type NodeID uint32

// ChangedArrays flags which of the three voxel arrays of a VoxelBuffer were
// modified and therefore need writing back.
type ChangedArrays struct {
	Nodes, Light, Secondary bool
}

// Any reports whether at least one array was modified.
func (c ChangedArrays) Any() bool {
	return c.Nodes || c.Light || c.Secondary
}

// merge returns the union of two change sets.
func (c ChangedArrays) merge(o ChangedArrays) ChangedArrays {
	return ChangedArrays{
		Nodes:     c.Nodes || o.Nodes,
		Light:     c.Light || o.Light,
		Secondary: c.Secondary || o.Secondary,
	}
}

// VoxelBuffer holds the voxel data of exactly one block: dense node, light
// and secondary-parameter arrays in the linearisation order documented at
// grid.Index. The arrays are writable in place; per-array dirty flags track
// which of them have to be written back to the world.
type VoxelBuffer struct {
	// Min and Max are the inclusive absolute bounds of the block the buffer
	// spans.
	Min, Max grid.Pos
	// Nodes, Light and Secondary hold one value per voxel each, indexed per
	// the grid.Index contract.
	Nodes     []NodeID
	Light     []uint8
	Secondary []uint8

	dirty ChangedArrays
}

// NewVoxelBuffer allocates an empty buffer spanning the block at the
// coordinate passed.
func NewVoxelBuffer(c grid.BlockPos) *VoxelBuffer {
	min, max := grid.BoundsOf(c)
	return &VoxelBuffer{
		Min: min, Max: max,
		Nodes:     make([]NodeID, grid.Volume),
		Light:     make([]uint8, grid.Volume),
		Secondary: make([]uint8, grid.Volume),
	}
}

// NodeAt returns the node at a flat voxel index.
func (b *VoxelBuffer) NodeAt(i int) NodeID { return b.Nodes[i] }

// SetNodeAt writes the node at a flat voxel index, marking the node array
// dirty if the value changed.
func (b *VoxelBuffer) SetNodeAt(i int, v NodeID) {
	if b.Nodes[i] != v {
		b.Nodes[i] = v
		b.dirty.Nodes = true
	}
}

// LightAt returns the light value at a flat voxel index.
func (b *VoxelBuffer) LightAt(i int) uint8 { return b.Light[i] }

// SetLightAt writes the light value at a flat voxel index, marking the light
// array dirty if the value changed.
func (b *VoxelBuffer) SetLightAt(i int, v uint8) {
	if b.Light[i] != v {
		b.Light[i] = v
		b.dirty.Light = true
	}
}

// SecondaryAt returns the secondary parameter at a flat voxel index.
func (b *VoxelBuffer) SecondaryAt(i int) uint8 { return b.Secondary[i] }

// SetSecondaryAt writes the secondary parameter at a flat voxel index,
// marking the secondary array dirty if the value changed.
func (b *VoxelBuffer) SetSecondaryAt(i int, v uint8) {
	if b.Secondary[i] != v {
		b.Secondary[i] = v
		b.dirty.Secondary = true
	}
}

// Mark adds the change set passed to the buffer's dirty flags. Transforms
// that mutate the exposed arrays directly report their changes this way.
func (b *VoxelBuffer) Mark(c ChangedArrays) {
	b.dirty = b.dirty.merge(c)
}

// Dirty returns the buffer's current dirty flags.
func (b *VoxelBuffer) Dirty() ChangedArrays { return b.dirty }

// clean resets the dirty flags after a write-back.
func (b *VoxelBuffer) clean() { b.dirty = ChangedArrays{} }

// World is the host voxel world the shepherd operates on. Implementations
// must hand out fully materialised blocks: a buffer returned by ReadRegion
// always spans exactly one block and holds valid data for every voxel in it.
type World interface {
	// ReadRegion loads the voxel data of the block spanning the inclusive
	// bounds passed. The bounds must be exactly one block's bounding box.
	// The second return value is false if the block cannot be supplied, for
	// example because it is outside the generated range.
	ReadRegion(min, max grid.Pos) (*VoxelBuffer, bool)
	// WriteRegion writes the arrays flagged in changed back to the world
	// and runs the engine's post-write consistency pass (light
	// recomputation, fluid re-equilibration) exactly once.
	WriteRegion(buf *VoxelBuffer, changed ChangedArrays)
	// BlockLoaded reports whether the block at the coordinate passed is
	// currently loaded.
	BlockLoaded(c grid.BlockPos) bool
	// Time returns the current simulation time in seconds. Label
	// timestamps and worker timing gates are expressed in this clock.
	Time() int64
}

// LoadedLister is implemented by worlds that can enumerate their currently
// loaded blocks. The shepherd uses it, when available, to re-seed the queue
// after a worker registry change; without it, re-discovery relies on the
// host's lifecycle callbacks alone.
type LoadedLister interface {
	LoadedBlocks() []grid.BlockPos
}
