package shepherd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labeldb"
	"github.com/kromka-chleba/mapchunk-shepherd-mirror/shepherd/labels"
)

// Config contains options for creating a Shepherd.
type Config struct {
	// Log is the Logger used for shepherd messages. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// World is the host voxel world to operate on. It must not be nil.
	World World
	// Store is the persistent key-value store block labels are saved to.
	// If nil, an in-memory store is used and labels do not survive the
	// process.
	Store labels.KV
	// TickInterval is the interval between ticks when the Shepherd drives
	// itself through Run. Defaults to 100ms.
	TickInterval time.Duration
	// TimeBudget bounds how long a single tick may spend draining the
	// block queue. At least one item is always drained per non-idle tick
	// regardless of the budget. Defaults to 2ms.
	TimeBudget time.Duration
	// NeighborhoodPool is the capacity of the neighbour buffer pool shared
	// by all workers within a processing round. Defaults to 8.
	NeighborhoodPool int
	// Metrics is the Prometheus Registerer collectors are registered on.
	// If nil, no metrics are recorded.
	Metrics prometheus.Registerer
}

// New creates a Shepherd using the fields of conf. Workers and tags may be
// registered on the returned Shepherd right away; ticking starts once Run
// is called or Tick is driven manually.
func (conf Config) New() *Shepherd {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.World == nil {
		panic("shepherd: Config.World must not be nil")
	}
	if conf.Store == nil {
		conf.Store = labeldb.NewMem()
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = 100 * time.Millisecond
	}
	if conf.TimeBudget <= 0 {
		conf.TimeBudget = 2 * time.Millisecond
	}
	if conf.NeighborhoodPool <= 0 {
		conf.NeighborhoodPool = 8
	}
	m := newMetrics(conf.Metrics)
	return &Shepherd{
		conf:        conf,
		log:         conf.Log,
		world:       conf.World,
		kv:          conf.Store,
		tags:        make(map[string]struct{}),
		workerNames: make(map[string]*Worker),
		queue:       newBlockQueue(),
		pool:        newNeighborPool(conf.World, conf.NeighborhoodPool, m),
		metrics:     m,
		closing:     make(chan struct{}),
	}
}

// UserConfig is the serialisable user configuration for a shepherd. It
// holds the settings that make sense in a config file; the runtime-only
// fields of Config (the world, the logger, the metrics registry) are filled
// in by the caller. UserConfig may be converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	Shepherd struct {
		// TickIntervalMilliseconds is the interval between processing
		// ticks.
		TickIntervalMilliseconds int
		// TimeBudgetMicroseconds bounds the queue drain time per tick.
		TimeBudgetMicroseconds int
		// NeighborhoodPool is the capacity of the neighbour buffer pool.
		NeighborhoodPool int
	}
	Database struct {
		// SaveLabels controls whether block labels are persisted. If
		// false, labels are kept in memory only and the Folder is unused.
		SaveLabels bool
		// Folder is the folder the label database resides in.
		Folder string
	}
	Metrics struct {
		// Enabled registers the shepherd's collectors on the default
		// Prometheus registry.
		Enabled bool
	}
}

// DefaultUserConfig returns a user configuration with the default values
// filled out.
func DefaultUserConfig() UserConfig {
	c := UserConfig{}
	c.Shepherd.TickIntervalMilliseconds = 100
	c.Shepherd.TimeBudgetMicroseconds = 2000
	c.Shepherd.NeighborhoodPool = 8
	c.Database.SaveLabels = true
	c.Database.Folder = "shepherd_labels"
	return c
}

// Config converts a UserConfig to a Config, opening the label database if
// persistence is enabled. The World field of the returned Config must still
// be set by the caller before use.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log:              log,
		TickInterval:     time.Duration(uc.Shepherd.TickIntervalMilliseconds) * time.Millisecond,
		TimeBudget:       time.Duration(uc.Shepherd.TimeBudgetMicroseconds) * time.Microsecond,
		NeighborhoodPool: uc.Shepherd.NeighborhoodPool,
	}
	if uc.Database.SaveLabels {
		db, err := labeldb.Config{Log: log}.Open(uc.Database.Folder)
		if err != nil {
			return conf, fmt.Errorf("create label store: %w", err)
		}
		conf.Store = db
	}
	if uc.Metrics.Enabled {
		conf.Metrics = prometheus.DefaultRegisterer
	}
	return conf, nil
}

// ReadUserConfig reads a UserConfig from the TOML file at the path passed.
// If the file does not exist, it is created with the default configuration.
func ReadUserConfig(path string) (UserConfig, error) {
	uc := DefaultUserConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return uc, fmt.Errorf("read config: %w", err)
		}
		encoded, err := toml.Marshal(uc)
		if err != nil {
			return uc, fmt.Errorf("encode default config: %w", err)
		}
		if err := os.WriteFile(path, encoded, 0644); err != nil {
			return uc, fmt.Errorf("write default config: %w", err)
		}
		return uc, nil
	}
	if err := toml.Unmarshal(data, &uc); err != nil {
		return uc, fmt.Errorf("decode config: %w", err)
	}
	return uc, nil
}
