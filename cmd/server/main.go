package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"isleforge/internal/config"
	"isleforge/internal/protocol"
	"isleforge/internal/store"
	"isleforge/internal/transport"
	"isleforge/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/server.yaml", "server config path (empty for built-in defaults)")
		port       = flag.Int("port", 0, "listen port override (0 uses the config value)")
		dataDir    = flag.String("data", "", "data directory override")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfgPath := strings.TrimSpace(*configPath)
	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			logger.Printf("config %s not found; using defaults", cfgPath)
			cfgPath = ""
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if strings.TrimSpace(*dataDir) != "" {
		cfg.DataDir = strings.TrimSpace(*dataDir)
	}
	snapDir := filepath.Join(cfg.DataDir, "snapshots")

	journal, err := store.OpenJournal(filepath.Join(cfg.DataDir, "journal.db"), logger)
	if err != nil {
		logger.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	w, err := buildWorld(cfg, journal, snapDir, *snapPath, *loadLatest, logger)
	if err != nil {
		logger.Fatalf("build world: %v", err)
	}

	if err := transport.Initialize(); err != nil {
		logger.Fatalf("init networking: %v", err)
	}
	defer transport.Shutdown()

	mgr := transport.NewManager(logger)
	srv := mgr.Server()
	srv.SetMaxPeers(cfg.MaxPeers)
	srv.SetCallbacks(transport.ServerCallbacks{
		OnConnect: func(p *transport.Peer) {
			pl := w.AddPlayer(p.ID())
			if pos, ok, err := journal.PlayerPosition(p.ID()); err == nil && ok {
				pl.Position = pos
			}
			srv.BroadcastHello()
			if err := srv.SendWorldState(p, w.State()); err != nil {
				logger.Printf("player %d: world state: %v", p.ID(), err)
				return
			}
			for _, is := range w.Islands() {
				for _, cc := range is.ChunkCoords() {
					err := srv.SendCompressedChunk(p, is.ID, cc.Vec3(), is.Position, is.Chunk(cc).Blocks())
					if err != nil {
						logger.Printf("player %d: island %d chunk %v: %v", p.ID(), is.ID, cc, err)
					}
				}
			}
		},
		OnDisconnect: func(p *transport.Peer) {
			if pl := w.Player(p.ID()); pl != nil {
				journal.RecordPlayer(p.ID(), pl.Position)
			}
			w.RemovePlayer(p.ID())
		},
		OnMovementRequest: func(p *transport.Peer, m protocol.PlayerMovementRequest) {
			if up, ok := w.ApplyMovement(p.ID(), m); ok {
				srv.BroadcastPlayerPosition(up.PlayerID, up.Seq, up.Position, up.Velocity)
			}
		},
		OnVoxelChangeRequest: func(p *transport.Peer, m protocol.VoxelChangeRequest) {
			if up, ok := w.ApplyVoxelChange(p.ID(), m); ok {
				journal.RecordEdit(up)
				srv.BroadcastVoxelChange(up.Seq, up.IslandID, up.LocalPos, up.VoxelType, up.AuthorPlayerID)
			}
		},
		OnChatMessage: func(p *transport.Peer, m protocol.ChatMessage) {
			srv.BroadcastChat(m.Message)
		},
		OnPilotingInput: func(p *transport.Peer, m protocol.PilotingInput) {
			w.ApplyPiloting(m)
		},
	})

	if err := mgr.Host(cfg.Port); err != nil {
		logger.Fatalf("host: %v", err)
	}
	defer mgr.StopHosting()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	dt := time.Second / time.Duration(cfg.TickRate)
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	start := time.Now()
	var tick uint64
	for {
		select {
		case <-stop:
			logger.Printf("shutting down")
			saveSnapshot(w, journal, snapDir, logger)
			return
		case <-ticker.C:
		}

		mgr.Tick()
		tick++

		stamp := uint32(time.Since(start) / time.Millisecond)
		for _, up := range w.Step(float32(dt.Seconds()), stamp) {
			srv.BroadcastEntityState(up)
		}

		if cfg.SnapshotEveryTicks > 0 && tick%uint64(cfg.SnapshotEveryTicks) == 0 {
			saveSnapshot(w, journal, snapDir, logger)
		}
	}
}

// buildWorld resumes from a snapshot when one is available, otherwise
// generates a fresh world, then replays journalled edits on top.
func buildWorld(cfg config.Config, journal *store.Journal, snapDir, snapPath string, loadLatest bool, logger *log.Logger) (*world.World, error) {
	toLoad := strings.TrimSpace(snapPath)
	if toLoad == "" && loadLatest {
		latest, err := store.Latest(snapDir)
		if err != nil {
			return nil, err
		}
		toLoad = latest
	}

	var w *world.World
	if toLoad != "" {
		snap, err := store.ReadSnapshot(toLoad)
		if err != nil {
			return nil, err
		}
		w, err = store.Restore(snap, cfg.WorldConfig(), logger)
		if err != nil {
			return nil, err
		}
		logger.Printf("resumed from %s (%d islands)", toLoad, len(w.Islands()))
	} else {
		w = world.New(cfg.WorldConfig(), logger)
		w.Generate()
	}

	replayed := 0
	err := journal.ReplayEdits(func(up protocol.VoxelChangeUpdate) error {
		if is := w.Island(up.IslandID); is != nil {
			is.SetVoxel(up.LocalPos, up.VoxelType)
			replayed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replayed > 0 {
		logger.Printf("replayed %d journalled edits", replayed)
	}
	return w, nil
}

func saveSnapshot(w *world.World, journal *store.Journal, snapDir string, logger *log.Logger) {
	snap, err := store.Capture(w)
	if err != nil {
		logger.Printf("snapshot capture: %v", err)
		return
	}
	path := store.SnapshotPath(snapDir)
	if err := store.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	if err := journal.Compact(); err != nil {
		logger.Printf("journal compact: %v", err)
	}
	logger.Printf("snapshot saved to %s", path)
}
