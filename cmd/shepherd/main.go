// The shepherd command runs the block processing engine against a
// self-contained in-memory world: terrain is generated (or restored from the
// previous run's snapshot), a pair of grass workers is registered and the
// engine ticks until the process is interrupted. It doubles as a soak
// harness for the engine and as a worked example of the API.
package main

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/grid"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labeldb"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labels"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/memworld"
)

const worldSeed = 20125

func main() {
	log := slog.Default()
	uc, err := shepherd.ReadUserConfig("shepherd.toml")
	if err != nil {
		log.Error("shepherd: reading config failed", "error", err)
		os.Exit(1)
	}
	conf, err := uc.Config(log)
	if err != nil {
		log.Error("shepherd: applying config failed", "error", err)
		os.Exit(1)
	}
	if conf.Store == nil {
		conf.Store = labeldb.NewMem()
	}

	world := loadWorld(log, conf.Store)
	conf.World = world
	s := conf.New()
	registerGrassWorkers(log, s, world)

	if uc.Metrics.Enabled {
		go serveMetrics(log)
	}

	done := make(chan struct{})
	go driveWorld(log, s, world, done)
	go s.Run()
	log.Info("shepherd: running", "blocks", len(world.LoadedBlocks()))

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info("shepherd: shutting down")
	close(done)
	_ = s.Close()
	if err := world.Save(conf.Store); err != nil {
		log.Error("shepherd: saving world snapshot failed", "error", err)
	}
	if closer, ok := conf.Store.(io.Closer); ok {
		_ = closer.Close()
	}
}

// loadWorld restores the world from the snapshot of a previous run, or
// generates a fresh patch of terrain if none is stored.
func loadWorld(log *slog.Logger, kv labels.KV) *memworld.World {
	world, ok, err := memworld.Load(kv)
	if err != nil {
		log.Error("shepherd: loading world snapshot failed, regenerating", "error", err)
	} else if ok {
		log.Info("shepherd: world restored from snapshot", "time", world.Time())
		return world
	}
	world = memworld.New()
	world.Generate(worldSeed, grid.BlockPos{-2, -1, -2}, grid.BlockPos{2, 1, 2})
	log.Info("shepherd: world generated", "seed", worldSeed)
	return world
}

// driveWorld stands in for a host engine: it advances the simulation clock
// once a second, re-announces the loaded blocks so the engine keeps
// revisiting them and periodically logs a status line.
func driveWorld(log *slog.Logger, s *shepherd.Shepherd, world *memworld.World, done <-chan struct{}) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for seconds := int64(0); ; {
		select {
		case <-t.C:
			world.AdvanceTime(1)
			for _, c := range world.LoadedBlocks() {
				s.BlockLoaded(c)
			}
			if seconds++; seconds%30 == 0 {
				log.Info("shepherd: status", "time", world.Time(), "tracked", s.TrackedBlockCount())
			}
		case <-done:
			return
		}
	}
}

// registerGrassWorkers wires up the demo transformation pair: a scanner
// labelling blocks that contain dirt and a grower that slowly turns exposed
// dirt into grass.
func registerGrassWorkers(log *slog.Logger, s *shepherd.Shepherd, world *memworld.World) {
	dirt := world.RegisterNode("dirt")
	grass := world.RegisterNode("grass")
	s.RegisterTags("has_dirt", "grassy")

	scanner := shepherd.Worker{
		Name: "dirt_scanner",
		Transform: func(min, max grid.Pos, buf *shepherd.VoxelBuffer, chance float64, n *shepherd.Neighborhood) shepherd.TransformResult {
			for i := 0; i < grid.Volume; i++ {
				if buf.NodeAt(i) == dirt {
					return shepherd.TransformResult{AddLabels: []string{"has_dirt"}}
				}
			}
			return shepherd.TransformResult{RemoveLabels: []string{"has_dirt"}}
		},
	}
	grower := shepherd.Worker{
		Name:              "grow_grass",
		NeededLabels:      []string{"has_dirt"},
		ReworkLabels:      []string{"grassy"},
		WorkEvery:         30,
		Chance:            0.2,
		CatchUp:           true,
		WantsNeighborhood: true,
		Transform: func(min, max grid.Pos, buf *shepherd.VoxelBuffer, chance float64, n *shepherd.Neighborhood) shepherd.TransformResult {
			grew := false
			for i := 0; i < grid.Volume; i++ {
				if buf.NodeAt(i) != dirt || rand.Float64() >= chance {
					continue
				}
				// Only dirt with air directly above turns to grass. The
				// voxel above may fall in the block overhead, which the
				// neighbourhood resolves transparently.
				p := min.Add(grid.Unindex(i))
				above, ok := n.Node(p.Add(grid.Pos{0, 1, 0}))
				if !ok || above != 0 {
					continue
				}
				buf.SetNodeAt(i, grass)
				grew = true
			}
			if !grew {
				return shepherd.TransformResult{}
			}
			return shepherd.TransformResult{AddLabels: []string{"grassy"}}
		},
	}
	for _, w := range []shepherd.Worker{scanner, grower} {
		if err := s.RegisterWorker(w); err != nil {
			log.Error("shepherd: registering worker failed", "worker", w.Name, "error", err)
			os.Exit(1)
		}
	}
}

func serveMetrics(log *slog.Logger) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":9090", nil); err != nil {
		log.Error("shepherd: metrics endpoint failed", "error", err)
	}
}
