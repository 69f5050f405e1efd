package ssm

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the VM geometry. All sizes are in words.
type Config struct {
	// MinorHeapSize is the minor heap buffer size.
	MinorHeapSize uintptr `toml:"minor_heap_size"`
	// MajorGCThresholdPercent is the growth factor of the full-GC
	// threshold; 0 disables major GC.
	MajorGCThresholdPercent uintptr `toml:"major_gc_threshold_percent"`
	// InitialStackSize is the call stack's starting size.
	InitialStackSize uintptr `toml:"initial_stack_size"`
	// InitialGlobalSize is the global table's starting size.
	InitialGlobalSize uintptr `toml:"initial_global_size"`
	// Debug enables debug-level logging, including GC traces.
	Debug bool `toml:"debug"`
}

// DefaultConfig returns the stock geometry: 256 Ki-word minor heap and
// call stack, 128 global slots, 100% growth threshold.
func DefaultConfig() Config {
	return Config{
		MinorHeapSize:           (2 << 20) >> 3,
		MajorGCThresholdPercent: 100,
		InitialStackSize:        (2 << 20) >> 3,
		InitialGlobalSize:       128,
	}
}

// fileConfig mirrors Config with TOML-decodable integer kinds.
type fileConfig struct {
	MinorHeapSize           uint64 `toml:"minor_heap_size"`
	MajorGCThresholdPercent uint64 `toml:"major_gc_threshold_percent"`
	InitialStackSize        uint64 `toml:"initial_stack_size"`
	InitialGlobalSize       uint64 `toml:"initial_global_size"`
	Debug                   bool   `toml:"debug"`
}

// LoadConfigFile reads a TOML config file over the defaults.
func LoadConfigFile(path string) (Config, error) {
	config := DefaultConfig()
	file := fileConfig{
		MinorHeapSize:           uint64(config.MinorHeapSize),
		MajorGCThresholdPercent: uint64(config.MajorGCThresholdPercent),
		InitialStackSize:        uint64(config.InitialStackSize),
		InitialGlobalSize:       uint64(config.InitialGlobalSize),
		Debug:                   config.Debug,
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return config, errors.Wrapf(err, "load config %s", path)
	}
	return Config{
		MinorHeapSize:           uintptr(file.MinorHeapSize),
		MajorGCThresholdPercent: uintptr(file.MajorGCThresholdPercent),
		InitialStackSize:        uintptr(file.InitialStackSize),
		InitialGlobalSize:       uintptr(file.InitialGlobalSize),
		Debug:                   file.Debug,
	}, nil
}
