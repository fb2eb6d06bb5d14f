package world

import (
	"fmt"

	"isleforge/internal/protocol"
)

// BlockAir is the empty block id.
const BlockAir byte = 0

// Block ids used by the default terrain. The protocol is agnostic to
// block types beyond air; these are the server's vocabulary.
const (
	BlockStone byte = 1
	BlockDirt  byte = 2
	BlockGrass byte = 3
)

// ChunkCoord addresses a chunk within an island.
type ChunkCoord struct {
	X, Y, Z int
}

// Vec3 converts the coordinate to its wire representation.
func (c ChunkCoord) Vec3() protocol.Vec3 {
	return protocol.Vec3{X: float32(c.X), Y: float32(c.Y), Z: float32(c.Z)}
}

// Chunk is a fixed 32x32x32 array of block ids stored in wire order
// (x varies fastest, then y, then z). It has no intrinsic position.
type Chunk struct {
	blocks [protocol.ChunkVolume]byte
}

// ChunkFromBlocks copies a wire-order byte buffer into a chunk. The
// buffer must be exactly one chunk.
func ChunkFromBlocks(b []byte) (*Chunk, error) {
	if len(b) != protocol.ChunkVolume {
		return nil, fmt.Errorf("chunk buffer is %d bytes, want %d", len(b), protocol.ChunkVolume)
	}
	c := &Chunk{}
	copy(c.blocks[:], b)
	return c, nil
}

func inBounds(x, y, z int) bool {
	return x >= 0 && x < protocol.ChunkSide &&
		y >= 0 && y < protocol.ChunkSide &&
		z >= 0 && z < protocol.ChunkSide
}

// At returns the block at a local coordinate, air when out of bounds.
func (c *Chunk) At(x, y, z int) byte {
	if !inBounds(x, y, z) {
		return BlockAir
	}
	return c.blocks[protocol.ChunkIndex(x, y, z)]
}

// Set writes a block at a local coordinate and reports whether the
// coordinate was in bounds.
func (c *Chunk) Set(x, y, z int, v byte) bool {
	if !inBounds(x, y, z) {
		return false
	}
	c.blocks[protocol.ChunkIndex(x, y, z)] = v
	return true
}

// Blocks exposes the chunk in wire order. The slice aliases the chunk;
// callers hand it straight to the codec and must not retain it across
// edits.
func (c *Chunk) Blocks() []byte {
	return c.blocks[:]
}
