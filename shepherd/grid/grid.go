// Package grid implements the coordinate arithmetic shared by the rest of the
// shepherd: conversions between absolute voxel positions, block coordinates
// and the stable identities used to reference a block without holding its
// data. All functions in this package are pure.
package grid

// Edge is the edge length of a block in voxels. It is a power of two so that
// coordinate conversions reduce to shifts and masks.
const (
	Edge     = 16
	edgeBits = 4
	edgeMask = Edge - 1

	// Volume is the number of voxels in a single block.
	Volume = Edge * Edge * Edge
)

// Pos holds the position of a voxel in absolute world coordinates. Pos is
// generally used as a value type.
type Pos [3]int

// X returns the X coordinate of the position.
func (p Pos) X() int { return p[0] }

// Y returns the Y coordinate of the position.
func (p Pos) Y() int { return p[1] }

// Z returns the Z coordinate of the position.
func (p Pos) Z() int { return p[2] }

// Add returns the position with another position added to it.
func (p Pos) Add(q Pos) Pos {
	return Pos{p[0] + q[0], p[1] + q[1], p[2] + q[2]}
}

// Sub returns the position with another position subtracted from it.
func (p Pos) Sub(q Pos) Pos {
	return Pos{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// BlockPos holds the coordinate of a block in block-grid units, so that the
// block spanning voxels [0,Edge) on each axis has BlockPos{0, 0, 0}.
type BlockPos [3]int

// X returns the X coordinate of the block position.
func (p BlockPos) X() int { return p[0] }

// Y returns the Y coordinate of the block position.
func (p BlockPos) Y() int { return p[1] }

// Z returns the Z coordinate of the block position.
func (p BlockPos) Z() int { return p[2] }

// Add returns the block position with another block position added to it.
func (p BlockPos) Add(q BlockPos) BlockPos {
	return BlockPos{p[0] + q[0], p[1] + q[1], p[2] + q[2]}
}

// CoordinateOf returns the coordinate of the block that the absolute voxel
// position passed falls in. The division floors for negative coordinates.
func CoordinateOf(p Pos) BlockPos {
	return BlockPos{p[0] >> edgeBits, p[1] >> edgeBits, p[2] >> edgeBits}
}

// OriginOf returns the absolute position of the lowest corner voxel of the
// block at the coordinate passed. It is the inverse of CoordinateOf for
// block-aligned positions.
func OriginOf(c BlockPos) Pos {
	return Pos{c[0] << edgeBits, c[1] << edgeBits, c[2] << edgeBits}
}

// BoundsOf returns the axis-aligned bounding box of the block at the
// coordinate passed, as an inclusive (min, max) pair with
// max = min + Edge-1 on each axis.
func BoundsOf(c BlockPos) (min, max Pos) {
	min = OriginOf(c)
	max = Pos{min[0] + edgeMask, min[1] + edgeMask, min[2] + edgeMask}
	return min, max
}

// Index linearises a local voxel position within a block to a flat array
// index. The axis order is fixed with X varying fastest, then Y, then Z:
//
//	index = x + Edge*(y + Edge*z)
//
// This order is a contract shared with the voxel arrays held by a
// VoxelBuffer; both sides must agree on it for cross-block access to land on
// the right voxel.
func Index(local Pos) int {
	return local[0] + Edge*(local[1]+Edge*local[2])
}

// Unindex is the inverse of Index, reconstructing the local voxel position
// from a flat array index.
func Unindex(i int) Pos {
	return Pos{i & edgeMask, (i >> edgeBits) & edgeMask, i >> (2 * edgeBits)}
}

// Adjacent returns the six orthogonal face neighbours of the voxel position
// passed, in the order -X, +X, -Y, +Y, -Z, +Z.
func Adjacent(p Pos) [6]Pos {
	return [6]Pos{
		{p[0] - 1, p[1], p[2]},
		{p[0] + 1, p[1], p[2]},
		{p[0], p[1] - 1, p[2]},
		{p[0], p[1] + 1, p[2]},
		{p[0], p[1], p[2] - 1},
		{p[0], p[1], p[2] + 1},
	}
}
