package world

import (
	"log"
	"math"

	"isleforge/internal/protocol"
)

// IslandSpec places one island at world start.
type IslandSpec struct {
	ID       uint32
	Position protocol.Vec3
}

type Config struct {
	Seed    int64
	Spawn   protocol.Vec3
	Islands []IslandSpec

	// MaxSpeed clamps how far a movement request may carry a player
	// per second. Zero selects the default.
	MaxSpeed float32

	// LiftSpeed scales piloting thrust into island vertical velocity.
	// Zero selects the default.
	LiftSpeed float32
}

const (
	defaultMaxSpeed  = 32.0
	defaultLiftSpeed = 4.0

	// maxDeltaTime rejects absurd movement requests; a client cannot
	// buy distance by claiming a huge frame time.
	maxDeltaTime = 0.5
)

// Player is the server-side view of one connected player.
type Player struct {
	ID       uint32
	Position protocol.Vec3
	Velocity protocol.Vec3
	LastSeq  uint32
}

// World is the authoritative game state: islands, their chunks and the
// connected players. It is driven entirely from the network tick loop;
// no internal locking.
type World struct {
	log *log.Logger
	cfg Config

	islands map[uint32]*Island
	order   []uint32
	players map[uint32]*Player
}

func New(cfg Config, logger *log.Logger) *World {
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = defaultMaxSpeed
	}
	if cfg.LiftSpeed <= 0 {
		cfg.LiftSpeed = defaultLiftSpeed
	}
	return &World{
		log:     logger,
		cfg:     cfg,
		islands: make(map[uint32]*Island),
		players: make(map[uint32]*Player),
	}
}

// Generate builds the starting islands deterministically from the seed.
// Each island is one chunk of layered terrain with a hashed height
// profile.
func (w *World) Generate() {
	for _, spec := range w.cfg.Islands {
		is := NewIsland(spec.ID, spec.Position)
		is.PutChunk(ChunkCoord{}, generateChunk(w.cfg.Seed, spec.ID))
		w.addIsland(is)
	}
	w.log.Printf("generated %d islands (seed %d)", len(w.order), w.cfg.Seed)
}

func generateChunk(seed int64, islandID uint32) *Chunk {
	c := &Chunk{}
	for z := 0; z < protocol.ChunkSide; z++ {
		for x := 0; x < protocol.ChunkSide; x++ {
			h := 12 + int(mix(seed, islandID, x, z)%5)
			for y := 0; y < h-4; y++ {
				c.Set(x, y, z, BlockStone)
			}
			for y := h - 4; y < h-1; y++ {
				c.Set(x, y, z, BlockDirt)
			}
			c.Set(x, h-1, z, BlockGrass)
		}
	}
	return c
}

// mix is a small deterministic hash over the worldgen inputs.
func mix(seed int64, islandID uint32, x, z int) uint64 {
	v := uint64(seed) ^ uint64(islandID)<<32 ^ uint64(uint32(x))<<16 ^ uint64(uint32(z))
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	v *= 0xc4ceb9fe1a85ec53
	v ^= v >> 33
	return v
}

// AddIsland installs an island, replacing any island with the same id.
// Creation order is preserved for the first installation.
func (w *World) AddIsland(is *Island) {
	w.addIsland(is)
}

func (w *World) addIsland(is *Island) {
	if _, ok := w.islands[is.ID]; !ok {
		w.order = append(w.order, is.ID)
	}
	w.islands[is.ID] = is
}

// Island returns an island by id, nil if absent.
func (w *World) Island(id uint32) *Island {
	return w.islands[id]
}

// Islands lists islands in creation order.
func (w *World) Islands() []*Island {
	out := make([]*Island, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.islands[id])
	}
	return out
}

// Spawn is where new players appear.
func (w *World) Spawn() protocol.Vec3 { return w.cfg.Spawn }

// Seed exposes the worldgen seed for persistence.
func (w *World) Seed() int64 { return w.cfg.Seed }

// State assembles the WorldState record sent to joining clients. Only
// the first WorldStateIslands islands fit the record; later ones are
// announced solely through their chunk records.
func (w *World) State() protocol.WorldState {
	ws := protocol.WorldState{PlayerSpawn: w.cfg.Spawn}
	for i, is := range w.Islands() {
		if i >= protocol.WorldStateIslands {
			break
		}
		ws.IslandPositions[i] = is.Position
		ws.NumIslands++
	}
	return ws
}

// AddPlayer creates a player at spawn.
func (w *World) AddPlayer(id uint32) *Player {
	p := &Player{ID: id, Position: w.cfg.Spawn}
	w.players[id] = p
	return p
}

func (w *World) RemovePlayer(id uint32) {
	delete(w.players, id)
}

// Player returns a player by id, nil if absent.
func (w *World) Player(id uint32) *Player {
	return w.players[id]
}

// ApplyMovement validates one movement request and returns the
// authoritative position update to broadcast. The update echoes the
// request's sequence number. A false return means the request was
// rejected and nothing changed.
func (w *World) ApplyMovement(playerID uint32, m protocol.PlayerMovementRequest) (protocol.PlayerPositionUpdate, bool) {
	p := w.players[playerID]
	if p == nil {
		return protocol.PlayerPositionUpdate{}, false
	}
	if m.DeltaTime <= 0 || m.DeltaTime > maxDeltaTime {
		w.log.Printf("player %d: movement rejected: dt=%v", playerID, m.DeltaTime)
		return protocol.PlayerPositionUpdate{}, false
	}

	// The intended position may not outrun the speed limit; pull it
	// back along the offset when it does.
	maxDist := w.cfg.MaxSpeed * m.DeltaTime
	offset := sub(m.Position, p.Position)
	if d := length(offset); d > maxDist && d > 0 {
		offset = scale(offset, maxDist/d)
	}
	p.Position = add(p.Position, offset)
	p.Velocity = clampLength(m.Velocity, w.cfg.MaxSpeed)
	p.LastSeq = m.Seq

	return protocol.PlayerPositionUpdate{
		PlayerID: playerID,
		Seq:      m.Seq,
		Position: p.Position,
		Velocity: p.Velocity,
	}, true
}

// ApplyVoxelChange validates one edit request against the island's
// chunks and returns the authoritative update to broadcast.
func (w *World) ApplyVoxelChange(author uint32, m protocol.VoxelChangeRequest) (protocol.VoxelChangeUpdate, bool) {
	is := w.islands[m.IslandID]
	if is == nil {
		w.log.Printf("player %d: edit rejected: no island %d", author, m.IslandID)
		return protocol.VoxelChangeUpdate{}, false
	}
	if !is.SetVoxel(m.LocalPos, m.VoxelType) {
		w.log.Printf("player %d: edit rejected: %v outside island %d", author, m.LocalPos, m.IslandID)
		return protocol.VoxelChangeUpdate{}, false
	}
	return protocol.VoxelChangeUpdate{
		Seq:            m.Seq,
		IslandID:       m.IslandID,
		LocalPos:       m.LocalPos,
		VoxelType:      m.VoxelType,
		AuthorPlayerID: author,
	}, true
}

// ApplyPiloting folds one unsequenced piloting input into island
// kinematics. Inputs for unknown islands are dropped.
func (w *World) ApplyPiloting(m protocol.PilotingInput) bool {
	is := w.islands[m.IslandID]
	if is == nil {
		return false
	}
	is.Velocity.Y = clamp(m.ThrustY, -1, 1) * w.cfg.LiftSpeed
	is.Yaw += m.RotationYaw
	return true
}

// Step integrates island motion over dt seconds and returns the entity
// updates to broadcast, stamped with the given server timestamp.
func (w *World) Step(dt float32, timestamp uint32) []protocol.EntityStateUpdate {
	var out []protocol.EntityStateUpdate
	for _, is := range w.Islands() {
		if is.Velocity == (protocol.Vec3{}) {
			continue
		}
		is.Position = add(is.Position, scale(is.Velocity, dt))
		out = append(out, protocol.EntityStateUpdate{
			EntityID:        is.ID,
			EntityType:      protocol.EntityIsland,
			Position:        is.Position,
			Velocity:        is.Velocity,
			ServerTimestamp: timestamp,
		})
	}
	return out
}

func add(a, b protocol.Vec3) protocol.Vec3 {
	return protocol.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func sub(a, b protocol.Vec3) protocol.Vec3 {
	return protocol.Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func scale(v protocol.Vec3, s float32) protocol.Vec3 {
	return protocol.Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func length(v protocol.Vec3) float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

func clampLength(v protocol.Vec3, max float32) protocol.Vec3 {
	if d := length(v); d > max && d > 0 {
		return scale(v, max/d)
	}
	return v
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
