// Package protocol defines the binary wire records exchanged between
// server and client.
//
// Every record is tightly packed little-endian and begins with a
// one-byte tag. Fields are parsed explicitly; the layout on the wire is
// authoritative, never the compiler's. Vector fields are three
// consecutive IEEE-754 32-bit floats (x, y, z).
package protocol

import "errors"

// Tag identifies a record layout. No two layouts share a tag.
type Tag uint8

const (
	TagHelloWorld             Tag = 1
	TagPlayerMovementRequest  Tag = 2
	TagPlayerPositionUpdate   Tag = 3
	TagChatMessage            Tag = 4
	TagWorldState             Tag = 5
	TagCompressedIslandHeader Tag = 6
	TagCompressedChunkHeader  Tag = 7
	TagVoxelChangeRequest     Tag = 8
	TagVoxelChangeUpdate      Tag = 9
	TagEntityStateUpdate      Tag = 10
	TagWelcome                Tag = 11
	TagPilotingInput          Tag = 12
)

const (
	// ChunkSide is the block-edge length of a chunk.
	ChunkSide = 32
	// ChunkVolume is the exact decompressed size of one chunk on the
	// wire. Codec output that decodes to a different length is
	// malformed.
	ChunkVolume = ChunkSide * ChunkSide * ChunkSide
	// MaxCompressedPayload is the conservative bound a sender must not
	// exceed for a single compressed-chunk datagram.
	MaxCompressedPayload = 16 * 1024

	// DefaultPort is used by server and client when none is given.
	DefaultPort = 7777

	// WorldStateIslands is the fixed number of island slots carried by
	// WorldState. Slots beyond NumIslands are zero.
	WorldStateIslands = 3

	helloMessageLen = 32
	chatMessageLen  = 256
)

var (
	ErrShortRecord = errors.New("protocol: record too short")
	ErrBadTag      = errors.New("protocol: unexpected tag")
	ErrPayload     = errors.New("protocol: truncated payload")
)

// Vec3 is a three-component float vector as carried on the wire.
type Vec3 struct {
	X, Y, Z float32
}

// Entity kind tags carried by EntityStateUpdate.
const (
	EntityPlayer uint8 = 1
	EntityIsland uint8 = 2
	EntityNPC    uint8 = 3
)

// PeekTag reads the record tag without validating the body.
func PeekTag(b []byte) (Tag, error) {
	if len(b) < 1 {
		return 0, ErrShortRecord
	}
	return Tag(b[0]), nil
}

// ChunkIndex flattens a local block coordinate into the fixed wire
// order: x varies fastest, then y, then z.
func ChunkIndex(x, y, z int) int {
	return x + ChunkSide*y + ChunkSide*ChunkSide*z
}
