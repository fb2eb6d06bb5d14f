// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"isleforge/internal/protocol"
	"isleforge/internal/world"
)

type Config struct {
	Port     int    `yaml:"port"`
	MaxPeers int    `yaml:"max_peers"`
	DataDir  string `yaml:"data_dir"`

	Seed  int64     `yaml:"seed"`
	Spawn SpawnSpec `yaml:"spawn"`

	// TickRate is the server loop frequency in Hz.
	TickRate int `yaml:"tick_rate_hz"`

	// SnapshotEveryTicks is how often the world is snapshotted and the
	// edit journal compacted. Zero disables snapshots.
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	MaxMoveSpeed float32 `yaml:"max_move_speed"`
	LiftSpeed    float32 `yaml:"lift_speed"`

	Islands []IslandSpec `yaml:"islands"`
}

type SpawnSpec struct {
	X float32 `yaml:"x"`
	Y float32 `yaml:"y"`
	Z float32 `yaml:"z"`
}

type IslandSpec struct {
	ID uint32  `yaml:"id"`
	X  float32 `yaml:"x"`
	Y  float32 `yaml:"y"`
	Z  float32 `yaml:"z"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Port:               protocol.DefaultPort,
		MaxPeers:           32,
		DataDir:            "data",
		Seed:               1,
		Spawn:              SpawnSpec{Y: 20},
		TickRate:           20,
		SnapshotEveryTicks: 1200,
		Islands: []IslandSpec{
			{ID: 1, X: 0, Y: 0, Z: 0},
			{ID: 2, X: 120, Y: 16, Z: 0},
			{ID: 3, X: -120, Y: -8, Z: 80},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = 32
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "data"
	}
	if c.TickRate <= 0 {
		c.TickRate = 20
	}
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return fmt.Errorf("tick_rate_hz must be in (0, 1000]")
	}
	if c.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0")
	}
	if c.MaxMoveSpeed < 0 || c.LiftSpeed < 0 {
		return fmt.Errorf("speeds must be >= 0")
	}
	if len(c.Islands) == 0 {
		return fmt.Errorf("islands must not be empty")
	}
	seen := map[uint32]bool{}
	for i, is := range c.Islands {
		if is.ID == 0 {
			return fmt.Errorf("islands[%d] id must be > 0", i)
		}
		if seen[is.ID] {
			return fmt.Errorf("duplicate island id: %d", is.ID)
		}
		seen[is.ID] = true
	}
	return nil
}

// WorldConfig translates the file shape into the world's config.
func (c Config) WorldConfig() world.Config {
	wc := world.Config{
		Seed:      c.Seed,
		Spawn:     protocol.Vec3{X: c.Spawn.X, Y: c.Spawn.Y, Z: c.Spawn.Z},
		MaxSpeed:  c.MaxMoveSpeed,
		LiftSpeed: c.LiftSpeed,
	}
	for _, is := range c.Islands {
		wc.Islands = append(wc.Islands, world.IslandSpec{
			ID:       is.ID,
			Position: protocol.Vec3{X: is.X, Y: is.Y, Z: is.Z},
		})
	}
	return wc
}
