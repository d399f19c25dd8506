package memworld

import (
	"github.com/aquilax/go-perlin"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
)

const (
	noiseAlpha   = 2.0
	noiseBeta    = 2.0
	noiseOctaves = 3
	noiseScale   = 48.0
)

// Generate fills the blocks in the inclusive block-coordinate range passed
// with simple layered terrain: a perlin-noise surface height per column,
// stone below it, a few dirt layers on top and air above. The nodes "air",
// "stone" and "dirt" are registered as needed. All generated blocks are
// loaded.
func (w *World) Generate(seed int64, min, max grid.BlockPos) {
	stone := w.RegisterNode("stone")
	dirt := w.RegisterNode("dirt")
	p := perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed)

	for bz := min[2]; bz <= max[2]; bz++ {
		for by := min[1]; by <= max[1]; by++ {
			for bx := min[0]; bx <= max[0]; bx++ {
				w.generateBlock(p, grid.BlockPos{bx, by, bz}, stone, dirt)
			}
		}
	}
}

func (w *World) generateBlock(p *perlin.Perlin, c grid.BlockPos, stone, dirt shepherd.NodeID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.materialize(c)
	origin := grid.OriginOf(c)
	for z := 0; z < grid.Edge; z++ {
		for x := 0; x < grid.Edge; x++ {
			wx, wz := origin[0]+x, origin[2]+z
			noise := p.Noise2D(float64(wx)/noiseScale, float64(wz)/noiseScale)
			surface := int(noise * 8)
			for y := 0; y < grid.Edge; y++ {
				wy := origin[1] + y
				i := grid.Index(grid.Pos{x, y, z})
				switch {
				case wy < surface-3:
					b.nodes[i] = stone
				case wy < surface:
					b.nodes[i] = dirt
				default:
					// Air, with full light above the surface.
					b.light[i] = 15
				}
			}
		}
	}
}
