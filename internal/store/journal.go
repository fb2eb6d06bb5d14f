// Package store persists the world: a sqlite journal of voxel edits
// and zstd-compressed snapshots. The journal absorbs edits as they are
// accepted; snapshots capture full world state so the journal can be
// compacted.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"isleforge/internal/protocol"
)

type Journal struct {
	db  *sql.DB
	log *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqEdit reqKind = iota + 1
	reqPlayer
	reqFlush
)

type req struct {
	kind reqKind

	edit   protocol.VoxelChangeUpdate
	player playerRow
	done   chan struct{}
}

type playerRow struct {
	ID      uint32
	X, Y, Z float32
}

func OpenJournal(path string, logger *log.Logger) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &Journal{
		db:  db,
		log: logger,
		// Buffered so a burst of edits never stalls the tick loop.
		ch: make(chan req, 16384),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS voxel_edits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			island_id INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			voxel_type INTEGER NOT NULL,
			author INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_island ON voxel_edits(island_id, id);`,
		`CREATE TABLE IF NOT EXISTS players (
			id INTEGER PRIMARY KEY,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.closed.Store(true)
		close(j.ch)
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}

// RecordEdit enqueues one accepted voxel edit. Writes are asynchronous;
// if the journal falls behind, edits are dropped and the next snapshot
// bounds the loss.
func (j *Journal) RecordEdit(up protocol.VoxelChangeUpdate) {
	if j == nil || j.closed.Load() {
		return
	}
	select {
	case j.ch <- req{kind: reqEdit, edit: up}:
	default:
		j.log.Printf("journal backlog full, dropping edit seq=%d", up.Seq)
	}
}

// RecordPlayer enqueues a player's last known position.
func (j *Journal) RecordPlayer(id uint32, pos protocol.Vec3) {
	if j == nil || j.closed.Load() {
		return
	}
	select {
	case j.ch <- req{kind: reqPlayer, player: playerRow{ID: id, X: pos.X, Y: pos.Y, Z: pos.Z}}:
	default:
	}
}

// Flush blocks until every edit queued before the call is committed.
func (j *Journal) Flush() {
	if j == nil || j.closed.Load() {
		return
	}
	done := make(chan struct{})
	j.ch <- req{kind: reqFlush, done: done}
	<-done
}

// ReplayEdits streams journalled edits in commit order. Applying them
// over the snapshot they follow reproduces the world.
func (j *Journal) ReplayEdits(fn func(protocol.VoxelChangeUpdate) error) error {
	rows, err := j.db.Query(`SELECT seq, island_id, x, y, z, voxel_type, author FROM voxel_edits ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var up protocol.VoxelChangeUpdate
		if err := rows.Scan(&up.Seq, &up.IslandID, &up.LocalPos.X, &up.LocalPos.Y, &up.LocalPos.Z, &up.VoxelType, &up.AuthorPlayerID); err != nil {
			return err
		}
		if err := fn(up); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PlayerPosition returns a player's last stored position.
func (j *Journal) PlayerPosition(id uint32) (protocol.Vec3, bool, error) {
	var p protocol.Vec3
	err := j.db.QueryRow(`SELECT x, y, z FROM players WHERE id = ?`, id).Scan(&p.X, &p.Y, &p.Z)
	if err == sql.ErrNoRows {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	return p, true, nil
}

// Compact drops journalled edits. Call only after the state they
// produced has been captured in a snapshot; pending writes are flushed
// first so the delete cannot outrun them.
func (j *Journal) Compact() error {
	j.Flush()
	_, err := j.db.Exec(`DELETE FROM voxel_edits`)
	return err
}

func (j *Journal) loop() {
	insertEdit, _ := j.db.Prepare(`INSERT INTO voxel_edits(seq,island_id,x,y,z,voxel_type,author,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	upsertPlayer, _ := j.db.Prepare(`INSERT OR REPLACE INTO players(id,x,y,z,updated_at) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertEdit != nil {
			_ = insertEdit.Close()
		}
		if upsertPlayer != nil {
			_ = upsertPlayer.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		lastCommit  = time.Now()
		commitEvery = 256
		commitWait  = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := j.db.Begin()
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			j.log.Printf("journal commit: %v", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range j.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		switch r.kind {
		case reqEdit:
			e := r.edit
			if insertEdit != nil {
				if _, err := tx.Stmt(insertEdit).Exec(
					int64(e.Seq),
					int64(e.IslandID),
					e.LocalPos.X, e.LocalPos.Y, e.LocalPos.Z,
					int64(e.VoxelType),
					int64(e.AuthorPlayerID),
					now,
				); err != nil {
					j.log.Printf("journal insert: %v", err)
					rollback()
					continue
				}
				opCount++
			}
		case reqPlayer:
			p := r.player
			if upsertPlayer != nil {
				if _, err := tx.Stmt(upsertPlayer).Exec(int64(p.ID), p.X, p.Y, p.Z, now); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}

		if opCount >= commitEvery || time.Since(lastCommit) >= commitWait {
			commit()
		}
	}

	commit()
}
