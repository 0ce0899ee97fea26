// Package config loads the driver's optional TOML configuration file
// (spec §6, SPEC-AMBIENT): overrides for the profiler's cost-model
// constants and the synthetic shared-library search table. Parsed with
// github.com/BurntSushi/toml, the same library lookbusy1344/arm-emulator
// uses for its own settings file.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/rv64emu/rv64emu/pkg/elfimage/synthlibs"
	"github.com/rv64emu/rv64emu/pkg/profiler"
)

// Profiler mirrors the overridable subset of pkg/profiler's cost-model
// constants. A zero value in any field means "leave the built-in default
// alone" (TOML omits absent keys rather than zeroing them, so this is safe
// even for a config file that only overrides one constant).
type Profiler struct {
	LoadHitLatency  uint64 `toml:"load_hit_latency"`
	LoadMissLatency uint64 `toml:"load_miss_latency"`
	MulLatency      uint64 `toml:"mul_latency"`
	MispredictExtra uint64 `toml:"mispredict_extra"`
	CacheMissWindow uint64 `toml:"cache_miss_window"`
}

// Library is one entry in the synthetic shared-library search table: the
// DT_NEEDED name a guest's dynamic section requests, and the file on disk
// to preload in place of pkg/elfimage/synthlibs' built-in stub blob.
type Library struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// Config is the top-level shape of the TOML file named by --config.
type Config struct {
	Profiler  Profiler  `toml:"profiler"`
	Libraries []Library `toml:"library"`
}

// Load reads and parses path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyProfiler overwrites pkg/profiler's package-level cost-model
// constants with any non-zero fields from c. Must run before the
// emulator's Profiler is constructed (cmd/rvemu does this immediately
// after loading the config, before pkg/emulator.New).
func (c *Config) ApplyProfiler() {
	if c == nil {
		return
	}
	p := c.Profiler
	if p.LoadHitLatency != 0 {
		profiler.LoadHitLatency = p.LoadHitLatency
	}
	if p.LoadMissLatency != 0 {
		profiler.LoadMissLatency = p.LoadMissLatency
	}
	if p.MulLatency != 0 {
		profiler.MulLatency = p.MulLatency
	}
	if p.MispredictExtra != 0 {
		profiler.MispredictExtra = p.MispredictExtra
	}
	if p.CacheMissWindow != 0 {
		profiler.CacheMissWindow = p.CacheMissWindow
	}
}

// ApplyLibraries reads each configured library's file from disk and adds
// it to synthlibs.Blobs under its DT_NEEDED name, taking precedence over
// the package's built-in stub blob for that name.
func (c *Config) ApplyLibraries() error {
	if c == nil {
		return nil
	}
	for _, lib := range c.Libraries {
		data, err := os.ReadFile(lib.Path)
		if err != nil {
			return err
		}
		synthlibs.Blobs[lib.Name] = data
	}
	return nil
}
