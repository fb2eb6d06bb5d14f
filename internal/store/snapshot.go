package store

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"isleforge/internal/codec"
	"isleforge/internal/protocol"
	"isleforge/internal/world"
)

const (
	snapshotVersion = 1
	snapshotPrefix  = "snapshot-"
	snapshotSuffix  = ".zst"
)

type Header struct {
	Version int    `json:"version"`
	Seed    int64  `json:"seed"`
	SavedAt string `json:"saved_at"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed  int64      `json:"seed"`
	Spawn [3]float32 `json:"spawn"`

	Islands []IslandV1 `json:"islands"`
}

type IslandV1 struct {
	ID       uint32     `json:"id"`
	Position [3]float32 `json:"position"`
	Yaw      float32    `json:"yaw"`
	Chunks   []ChunkV1  `json:"chunks"`
}

// ChunkV1 holds one chunk's blocks run-length encoded with the wire
// codec; OriginalSize is kept for the decoder.
type ChunkV1 struct {
	CX, CY, CZ   int
	Blocks       []byte
	OriginalSize uint32
}

// Capture serializes the world into a snapshot.
func Capture(w *world.World) (SnapshotV1, error) {
	spawn := w.Spawn()
	snap := SnapshotV1{
		Header: Header{
			Version: snapshotVersion,
			Seed:    w.Seed(),
			SavedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
		Seed:  w.Seed(),
		Spawn: [3]float32{spawn.X, spawn.Y, spawn.Z},
	}
	for _, is := range w.Islands() {
		iv := IslandV1{
			ID:       is.ID,
			Position: [3]float32{is.Position.X, is.Position.Y, is.Position.Z},
			Yaw:      is.Yaw,
		}
		for _, cc := range is.ChunkCoords() {
			blocks := is.Chunk(cc).Blocks()
			comp, err := codec.Compress(blocks)
			if err != nil {
				return SnapshotV1{}, fmt.Errorf("island %d chunk %v: %w", is.ID, cc, err)
			}
			iv.Chunks = append(iv.Chunks, ChunkV1{
				CX: cc.X, CY: cc.Y, CZ: cc.Z,
				Blocks:       comp,
				OriginalSize: uint32(len(blocks)),
			})
		}
		snap.Islands = append(snap.Islands, iv)
	}
	return snap, nil
}

// Restore rebuilds a world from a snapshot. cfg supplies the tunables
// (speed limits); seed, spawn and islands come from the snapshot.
func Restore(snap SnapshotV1, cfg world.Config, logger *log.Logger) (*world.World, error) {
	cfg.Seed = snap.Seed
	cfg.Spawn = protocol.Vec3{X: snap.Spawn[0], Y: snap.Spawn[1], Z: snap.Spawn[2]}
	cfg.Islands = nil
	w := world.New(cfg, logger)
	for _, iv := range snap.Islands {
		is := world.NewIsland(iv.ID, protocol.Vec3{X: iv.Position[0], Y: iv.Position[1], Z: iv.Position[2]})
		is.Yaw = iv.Yaw
		for _, cv := range iv.Chunks {
			blocks, err := codec.Decompress(cv.Blocks, int(cv.OriginalSize))
			if err != nil {
				return nil, fmt.Errorf("island %d chunk (%d,%d,%d): %w", iv.ID, cv.CX, cv.CY, cv.CZ, err)
			}
			c, err := world.ChunkFromBlocks(blocks)
			if err != nil {
				return nil, fmt.Errorf("island %d chunk (%d,%d,%d): %w", iv.ID, cv.CX, cv.CY, cv.CZ, err)
			}
			is.PutChunk(world.ChunkCoord{X: cv.CX, Y: cv.CY, Z: cv.CZ}, c)
		}
		w.AddIsland(is)
	}
	return w, nil
}

// WriteSnapshot persists a snapshot. Flush and close errors propagate:
// the caller compacts the edit journal on success, so success must mean
// the bytes reached the file.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encodeSnapshot(f, snap); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encodeSnapshot(dst io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is informational; gob carries the full snapshot.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// SnapshotPath names a new snapshot file inside dir. Names sort by
// creation time so Latest can pick lexicographically.
func SnapshotPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s%020d%s", snapshotPrefix, time.Now().UnixNano(), snapshotSuffix))
}

// Latest returns the newest snapshot in dir, or "" when none exist.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, snapshotPrefix) && strings.HasSuffix(n, snapshotSuffix) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}
