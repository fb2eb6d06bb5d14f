package world

import (
	"math"

	"isleforge/internal/protocol"
)

// Island is a pilotable group of chunks with a world-space centre.
// Chunks are addressed by integer chunk coordinates relative to the
// island origin.
type Island struct {
	ID       uint32
	Position protocol.Vec3
	Velocity protocol.Vec3
	Yaw      float32

	chunks map[ChunkCoord]*Chunk
	order  []ChunkCoord // deterministic iteration and save order
}

func NewIsland(id uint32, pos protocol.Vec3) *Island {
	return &Island{
		ID:       id,
		Position: pos,
		chunks:   make(map[ChunkCoord]*Chunk),
	}
}

// Chunk returns the chunk at a coordinate, nil if absent.
func (is *Island) Chunk(cc ChunkCoord) *Chunk {
	return is.chunks[cc]
}

// PutChunk installs a chunk at a coordinate, replacing any existing one.
func (is *Island) PutChunk(cc ChunkCoord, c *Chunk) {
	if _, ok := is.chunks[cc]; !ok {
		is.order = append(is.order, cc)
	}
	is.chunks[cc] = c
}

// ChunkCoords lists present chunk coordinates in insertion order.
func (is *Island) ChunkCoords() []ChunkCoord {
	return is.order
}

// SetVoxel writes one block addressed by an island-local position.
// Negative or fractional positions are floored into block coordinates;
// positions outside present chunks fail.
func (is *Island) SetVoxel(local protocol.Vec3, v byte) bool {
	bx := int(math.Floor(float64(local.X)))
	by := int(math.Floor(float64(local.Y)))
	bz := int(math.Floor(float64(local.Z)))

	cc := ChunkCoord{
		X: floorDiv(bx, protocol.ChunkSide),
		Y: floorDiv(by, protocol.ChunkSide),
		Z: floorDiv(bz, protocol.ChunkSide),
	}
	c := is.chunks[cc]
	if c == nil {
		return false
	}
	return c.Set(mod(bx, protocol.ChunkSide), mod(by, protocol.ChunkSide), mod(bz, protocol.ChunkSide), v)
}

// VoxelAt reads one block addressed by an island-local position, air
// when absent.
func (is *Island) VoxelAt(local protocol.Vec3) byte {
	bx := int(math.Floor(float64(local.X)))
	by := int(math.Floor(float64(local.Y)))
	bz := int(math.Floor(float64(local.Z)))

	cc := ChunkCoord{
		X: floorDiv(bx, protocol.ChunkSide),
		Y: floorDiv(by, protocol.ChunkSide),
		Z: floorDiv(bz, protocol.ChunkSide),
	}
	c := is.chunks[cc]
	if c == nil {
		return BlockAir
	}
	return c.At(mod(bx, protocol.ChunkSide), mod(by, protocol.ChunkSide), mod(bz, protocol.ChunkSide))
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
