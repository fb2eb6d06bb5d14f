package config

import (
	"os"
	"path/filepath"
	"testing"

	"isleforge/internal/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != protocol.DefaultPort {
		t.Fatalf("port = %d, want %d", cfg.Port, protocol.DefaultPort)
	}
	if cfg.MaxPeers != 32 || cfg.TickRate != 20 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if len(cfg.Islands) == 0 {
		t.Fatal("defaults have no islands")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	p := writeConfig(t, `
port: 9000
max_peers: 4
seed: 99
islands:
  - id: 7
    x: 10
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 || cfg.MaxPeers != 4 || cfg.Seed != 99 {
		t.Fatalf("cfg = %+v", cfg)
	}
	// Unset fields normalize to defaults.
	if cfg.TickRate != 20 || cfg.DataDir != "data" {
		t.Fatalf("normalized cfg = %+v", cfg)
	}
	if len(cfg.Islands) != 1 || cfg.Islands[0].ID != 7 {
		t.Fatalf("islands = %+v", cfg.Islands)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"no islands":   "islands: []",
		"zero id":      "islands: [{id: 0}]",
		"duplicate id": "islands: [{id: 1}, {id: 1}]",
		"bad port":     "port: 99999\nislands: [{id: 1}]",
		"bad yaml":     "islands: [",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestWorldConfig(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Spawn = SpawnSpec{X: 1, Y: 2, Z: 3}
	wc := cfg.WorldConfig()
	if wc.Seed != cfg.Seed {
		t.Fatalf("seed = %d, want %d", wc.Seed, cfg.Seed)
	}
	if wc.Spawn != (protocol.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("spawn = %v", wc.Spawn)
	}
	if len(wc.Islands) != len(cfg.Islands) {
		t.Fatalf("%d islands, want %d", len(wc.Islands), len(cfg.Islands))
	}
	for i, is := range wc.Islands {
		if is.ID != cfg.Islands[i].ID {
			t.Fatalf("island %d id = %d, want %d", i, is.ID, cfg.Islands[i].ID)
		}
	}
}
