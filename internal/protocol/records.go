package protocol

// Fixed record sizes in bytes, tag included. Records carrying a
// variable payload (tags 6 and 7) declare the size of the fixed header
// that precedes it.
const (
	HelloWorldSize             = 1 + helloMessageLen
	PlayerMovementRequestSize  = 1 + 4 + 12 + 12 + 4
	PlayerPositionUpdateSize   = 1 + 4 + 4 + 12 + 12
	ChatMessageSize            = 1 + chatMessageLen
	WorldStateSize             = 1 + 4 + WorldStateIslands*12 + 12
	CompressedIslandHeaderSize = 1 + 4 + 12 + 4 + 4
	CompressedChunkHeaderSize  = 1 + 4 + 12 + 12 + 4 + 4
	VoxelChangeRequestSize     = 1 + 4 + 4 + 12 + 1
	VoxelChangeUpdateSize      = 1 + 4 + 4 + 12 + 1 + 4
	EntityStateUpdateSize      = 1 + 4 + 4 + 1 + 3*12 + 4 + 1
	WelcomeSize                = 1 + 4
	PilotingInputSize          = 1 + 4 + 4 + 4 + 4
)

// HelloWorld (tag 1) is a fixed 32-byte ASCII greeting broadcast by the
// server.
type HelloWorld struct {
	Message string
}

func (m HelloWorld) Marshal() []byte {
	w := newWriter(HelloWorldSize, TagHelloWorld)
	w.stringN(m.Message, helloMessageLen)
	return w.b
}

func DecodeHelloWorld(b []byte) (HelloWorld, error) {
	if len(b) < HelloWorldSize {
		return HelloWorld{}, ErrShortRecord
	}
	r := newReader(b, TagHelloWorld)
	m := HelloWorld{Message: r.stringN(helloMessageLen)}
	if r.fail {
		return HelloWorld{}, ErrBadTag
	}
	return m, nil
}

// PlayerMovementRequest (tag 2) carries a client's intended movement.
type PlayerMovementRequest struct {
	Seq       uint32
	Position  Vec3
	Velocity  Vec3
	DeltaTime float32
}

func (m PlayerMovementRequest) Marshal() []byte {
	w := newWriter(PlayerMovementRequestSize, TagPlayerMovementRequest)
	w.u32(m.Seq)
	w.vec3(m.Position)
	w.vec3(m.Velocity)
	w.f32(m.DeltaTime)
	return w.b
}

func DecodePlayerMovementRequest(b []byte) (PlayerMovementRequest, error) {
	if len(b) < PlayerMovementRequestSize {
		return PlayerMovementRequest{}, ErrShortRecord
	}
	r := newReader(b, TagPlayerMovementRequest)
	m := PlayerMovementRequest{
		Seq:      r.u32(),
		Position: r.vec3(),
		Velocity: r.vec3(),
	}
	m.DeltaTime = r.f32()
	if r.fail {
		return PlayerMovementRequest{}, ErrBadTag
	}
	return m, nil
}

// PlayerPositionUpdate (tag 3) is the authoritative position broadcast.
// Seq echoes the originating request's sequence number so the owning
// client can reconcile.
type PlayerPositionUpdate struct {
	PlayerID uint32
	Seq      uint32
	Position Vec3
	Velocity Vec3
}

func (m PlayerPositionUpdate) Marshal() []byte {
	w := newWriter(PlayerPositionUpdateSize, TagPlayerPositionUpdate)
	w.u32(m.PlayerID)
	w.u32(m.Seq)
	w.vec3(m.Position)
	w.vec3(m.Velocity)
	return w.b
}

func DecodePlayerPositionUpdate(b []byte) (PlayerPositionUpdate, error) {
	if len(b) < PlayerPositionUpdateSize {
		return PlayerPositionUpdate{}, ErrShortRecord
	}
	r := newReader(b, TagPlayerPositionUpdate)
	m := PlayerPositionUpdate{
		PlayerID: r.u32(),
		Seq:      r.u32(),
		Position: r.vec3(),
		Velocity: r.vec3(),
	}
	if r.fail {
		return PlayerPositionUpdate{}, ErrBadTag
	}
	return m, nil
}

// ChatMessage (tag 4) is a fixed 256-byte ASCII chat line.
type ChatMessage struct {
	Message string
}

func (m ChatMessage) Marshal() []byte {
	w := newWriter(ChatMessageSize, TagChatMessage)
	w.stringN(m.Message, chatMessageLen)
	return w.b
}

func DecodeChatMessage(b []byte) (ChatMessage, error) {
	if len(b) < ChatMessageSize {
		return ChatMessage{}, ErrShortRecord
	}
	r := newReader(b, TagChatMessage)
	m := ChatMessage{Message: r.stringN(chatMessageLen)}
	if r.fail {
		return ChatMessage{}, ErrBadTag
	}
	return m, nil
}

// WorldState (tag 5) announces the island layout and the spawn point.
// The record statically holds WorldStateIslands position slots; slots
// beyond NumIslands are encoded as zero.
type WorldState struct {
	NumIslands      uint32
	IslandPositions [WorldStateIslands]Vec3
	PlayerSpawn     Vec3
}

func (m WorldState) Marshal() []byte {
	w := newWriter(WorldStateSize, TagWorldState)
	w.u32(m.NumIslands)
	for i, p := range m.IslandPositions {
		if uint32(i) >= m.NumIslands {
			p = Vec3{}
		}
		w.vec3(p)
	}
	w.vec3(m.PlayerSpawn)
	return w.b
}

func DecodeWorldState(b []byte) (WorldState, error) {
	if len(b) < WorldStateSize {
		return WorldState{}, ErrShortRecord
	}
	r := newReader(b, TagWorldState)
	m := WorldState{NumIslands: r.u32()}
	for i := range m.IslandPositions {
		m.IslandPositions[i] = r.vec3()
	}
	m.PlayerSpawn = r.vec3()
	if r.fail {
		return WorldState{}, ErrBadTag
	}
	return m, nil
}

// CompressedIslandHeader (tag 6) precedes CompressedSize bytes of
// codec output holding a whole island's root chunk.
type CompressedIslandHeader struct {
	IslandID       uint32
	Position       Vec3
	OriginalSize   uint32
	CompressedSize uint32
}

// Marshal encodes the header followed by the compressed payload.
func (m CompressedIslandHeader) Marshal(payload []byte) []byte {
	w := newWriter(CompressedIslandHeaderSize+len(payload), TagCompressedIslandHeader)
	w.u32(m.IslandID)
	w.vec3(m.Position)
	w.u32(m.OriginalSize)
	w.u32(uint32(len(payload)))
	w.b = append(w.b, payload...)
	return w.b
}

// DecodeCompressedIslandHeader parses the fixed header and returns the
// compressed payload that follows it. The payload aliases b.
func DecodeCompressedIslandHeader(b []byte) (CompressedIslandHeader, []byte, error) {
	if len(b) < CompressedIslandHeaderSize {
		return CompressedIslandHeader{}, nil, ErrShortRecord
	}
	r := newReader(b, TagCompressedIslandHeader)
	m := CompressedIslandHeader{
		IslandID:       r.u32(),
		Position:       r.vec3(),
		OriginalSize:   r.u32(),
		CompressedSize: r.u32(),
	}
	if r.fail {
		return CompressedIslandHeader{}, nil, ErrBadTag
	}
	payload := r.rest()
	if uint32(len(payload)) < m.CompressedSize {
		return CompressedIslandHeader{}, nil, ErrPayload
	}
	return m, payload[:m.CompressedSize], nil
}

// CompressedChunkHeader (tag 7) precedes CompressedSize bytes of codec
// output holding one chunk addressed within an island.
type CompressedChunkHeader struct {
	IslandID       uint32
	ChunkCoord     Vec3
	IslandPosition Vec3
	OriginalSize   uint32
	CompressedSize uint32
}

func (m CompressedChunkHeader) Marshal(payload []byte) []byte {
	w := newWriter(CompressedChunkHeaderSize+len(payload), TagCompressedChunkHeader)
	w.u32(m.IslandID)
	w.vec3(m.ChunkCoord)
	w.vec3(m.IslandPosition)
	w.u32(m.OriginalSize)
	w.u32(uint32(len(payload)))
	w.b = append(w.b, payload...)
	return w.b
}

func DecodeCompressedChunkHeader(b []byte) (CompressedChunkHeader, []byte, error) {
	if len(b) < CompressedChunkHeaderSize {
		return CompressedChunkHeader{}, nil, ErrShortRecord
	}
	r := newReader(b, TagCompressedChunkHeader)
	m := CompressedChunkHeader{
		IslandID:       r.u32(),
		ChunkCoord:     r.vec3(),
		IslandPosition: r.vec3(),
		OriginalSize:   r.u32(),
		CompressedSize: r.u32(),
	}
	if r.fail {
		return CompressedChunkHeader{}, nil, ErrBadTag
	}
	payload := r.rest()
	if uint32(len(payload)) < m.CompressedSize {
		return CompressedChunkHeader{}, nil, ErrPayload
	}
	return m, payload[:m.CompressedSize], nil
}

// VoxelChangeRequest (tag 8) asks the server to set one voxel.
type VoxelChangeRequest struct {
	Seq       uint32
	IslandID  uint32
	LocalPos  Vec3
	VoxelType uint8
}

func (m VoxelChangeRequest) Marshal() []byte {
	w := newWriter(VoxelChangeRequestSize, TagVoxelChangeRequest)
	w.u32(m.Seq)
	w.u32(m.IslandID)
	w.vec3(m.LocalPos)
	w.u8(m.VoxelType)
	return w.b
}

func DecodeVoxelChangeRequest(b []byte) (VoxelChangeRequest, error) {
	if len(b) < VoxelChangeRequestSize {
		return VoxelChangeRequest{}, ErrShortRecord
	}
	r := newReader(b, TagVoxelChangeRequest)
	m := VoxelChangeRequest{
		Seq:      r.u32(),
		IslandID: r.u32(),
		LocalPos: r.vec3(),
	}
	m.VoxelType = r.u8()
	if r.fail {
		return VoxelChangeRequest{}, ErrBadTag
	}
	return m, nil
}

// VoxelChangeUpdate (tag 9) is the authoritative voxel edit broadcast.
// Seq echoes the originating request for the author's reconciliation.
type VoxelChangeUpdate struct {
	Seq            uint32
	IslandID       uint32
	LocalPos       Vec3
	VoxelType      uint8
	AuthorPlayerID uint32
}

func (m VoxelChangeUpdate) Marshal() []byte {
	w := newWriter(VoxelChangeUpdateSize, TagVoxelChangeUpdate)
	w.u32(m.Seq)
	w.u32(m.IslandID)
	w.vec3(m.LocalPos)
	w.u8(m.VoxelType)
	w.u32(m.AuthorPlayerID)
	return w.b
}

func DecodeVoxelChangeUpdate(b []byte) (VoxelChangeUpdate, error) {
	if len(b) < VoxelChangeUpdateSize {
		return VoxelChangeUpdate{}, ErrShortRecord
	}
	r := newReader(b, TagVoxelChangeUpdate)
	m := VoxelChangeUpdate{
		Seq:      r.u32(),
		IslandID: r.u32(),
		LocalPos: r.vec3(),
	}
	m.VoxelType = r.u8()
	m.AuthorPlayerID = r.u32()
	if r.fail {
		return VoxelChangeUpdate{}, ErrBadTag
	}
	return m, nil
}

// EntityStateUpdate (tag 10) carries full kinematic state for one
// entity (player, island or NPC).
type EntityStateUpdate struct {
	Seq             uint32
	EntityID        uint32
	EntityType      uint8
	Position        Vec3
	Velocity        Vec3
	Acceleration    Vec3
	ServerTimestamp uint32
	Flags           uint8
}

func (m EntityStateUpdate) Marshal() []byte {
	w := newWriter(EntityStateUpdateSize, TagEntityStateUpdate)
	w.u32(m.Seq)
	w.u32(m.EntityID)
	w.u8(m.EntityType)
	w.vec3(m.Position)
	w.vec3(m.Velocity)
	w.vec3(m.Acceleration)
	w.u32(m.ServerTimestamp)
	w.u8(m.Flags)
	return w.b
}

func DecodeEntityStateUpdate(b []byte) (EntityStateUpdate, error) {
	if len(b) < EntityStateUpdateSize {
		return EntityStateUpdate{}, ErrShortRecord
	}
	r := newReader(b, TagEntityStateUpdate)
	m := EntityStateUpdate{
		Seq:      r.u32(),
		EntityID: r.u32(),
	}
	m.EntityType = r.u8()
	m.Position = r.vec3()
	m.Velocity = r.vec3()
	m.Acceleration = r.vec3()
	m.ServerTimestamp = r.u32()
	m.Flags = r.u8()
	if r.fail {
		return EntityStateUpdate{}, ErrBadTag
	}
	return m, nil
}

// Welcome (tag 11) is sent once by the server right after the session
// opens and tells the client its player id.
type Welcome struct {
	PlayerID uint32
}

func (m Welcome) Marshal() []byte {
	w := newWriter(WelcomeSize, TagWelcome)
	w.u32(m.PlayerID)
	return w.b
}

func DecodeWelcome(b []byte) (Welcome, error) {
	if len(b) < WelcomeSize {
		return Welcome{}, ErrShortRecord
	}
	r := newReader(b, TagWelcome)
	m := Welcome{PlayerID: r.u32()}
	if r.fail {
		return Welcome{}, ErrBadTag
	}
	return m, nil
}

// PilotingInput (tag 12) is the unsequenced fast-path island piloting
// request. It may be dropped or reordered; it carries the player id
// because it travels outside the session channel.
type PilotingInput struct {
	PlayerID    uint32
	IslandID    uint32
	ThrustY     float32
	RotationYaw float32
}

func (m PilotingInput) Marshal() []byte {
	w := newWriter(PilotingInputSize, TagPilotingInput)
	w.u32(m.PlayerID)
	w.u32(m.IslandID)
	w.f32(m.ThrustY)
	w.f32(m.RotationYaw)
	return w.b
}

func DecodePilotingInput(b []byte) (PilotingInput, error) {
	if len(b) < PilotingInputSize {
		return PilotingInput{}, ErrShortRecord
	}
	r := newReader(b, TagPilotingInput)
	m := PilotingInput{
		PlayerID: r.u32(),
		IslandID: r.u32(),
	}
	m.ThrustY = r.f32()
	m.RotationYaw = r.f32()
	if r.fail {
		return PilotingInput{}, ErrBadTag
	}
	return m, nil
}
