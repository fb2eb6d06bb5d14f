package protocol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestGoldenBuffers(t *testing.T) {
	cases := []struct {
		name string
		got  []byte
		want string
	}{
		{
			name: "HelloWorld",
			got:  HelloWorld{Message: "Hi"}.Marshal(),
			want: "014869" + "000000000000000000000000000000000000000000000000000000000000",
		},
		{
			name: "PlayerPositionUpdate",
			got: PlayerPositionUpdate{
				PlayerID: 2,
				Seq:      9,
				Position: Vec3{1, 2, 3},
			}.Marshal(),
			want: "0302000000090000000000803f0000004000004040000000000000000000000000",
		},
		{
			name: "VoxelChangeRequest",
			got: VoxelChangeRequest{
				Seq:       1,
				IslandID:  7,
				LocalPos:  Vec3{3, 4, 5},
				VoxelType: 1,
			}.Marshal(),
			want: "08010000000700000000004040000080400000a04001",
		},
		{
			name: "Welcome",
			got:  Welcome{PlayerID: 0x12345678}.Marshal(),
			want: "0b78563412",
		},
	}
	for _, tc := range cases {
		want, err := hex.DecodeString(tc.want)
		if err != nil {
			t.Fatalf("%s: bad golden hex: %v", tc.name, err)
		}
		if !bytes.Equal(tc.got, want) {
			t.Fatalf("%s:\n got %x\nwant %x", tc.name, tc.got, want)
		}
	}
}

func TestRoundTrip_FixedRecords(t *testing.T) {
	hello := HelloWorld{Message: "Hello from server!"}
	if m, err := DecodeHelloWorld(hello.Marshal()); err != nil || m != hello {
		t.Fatalf("HelloWorld: %+v, %v", m, err)
	}

	move := PlayerMovementRequest{
		Seq:       41,
		Position:  Vec3{1.5, -2.25, 64},
		Velocity:  Vec3{0, -9.8, 0},
		DeltaTime: 0.016,
	}
	if m, err := DecodePlayerMovementRequest(move.Marshal()); err != nil || m != move {
		t.Fatalf("PlayerMovementRequest: %+v, %v", m, err)
	}

	pos := PlayerPositionUpdate{PlayerID: 3, Seq: 41, Position: Vec3{1, 2, 3}, Velocity: Vec3{4, 5, 6}}
	if m, err := DecodePlayerPositionUpdate(pos.Marshal()); err != nil || m != pos {
		t.Fatalf("PlayerPositionUpdate: %+v, %v", m, err)
	}

	chat := ChatMessage{Message: "anyone near island 7?"}
	if m, err := DecodeChatMessage(chat.Marshal()); err != nil || m != chat {
		t.Fatalf("ChatMessage: %+v, %v", m, err)
	}

	world := WorldState{
		NumIslands: 2,
		IslandPositions: [WorldStateIslands]Vec3{
			{0, 100, 0},
			{256, 80, -128},
		},
		PlayerSpawn: Vec3{8, 140, 8},
	}
	if m, err := DecodeWorldState(world.Marshal()); err != nil || m != world {
		t.Fatalf("WorldState: %+v, %v", m, err)
	}

	edit := VoxelChangeUpdate{Seq: 12, IslandID: 7, LocalPos: Vec3{3, 4, 5}, VoxelType: 1, AuthorPlayerID: 2}
	if m, err := DecodeVoxelChangeUpdate(edit.Marshal()); err != nil || m != edit {
		t.Fatalf("VoxelChangeUpdate: %+v, %v", m, err)
	}

	ent := EntityStateUpdate{
		Seq:             5,
		EntityID:        42,
		EntityType:      EntityIsland,
		Position:        Vec3{1, 2, 3},
		Velocity:        Vec3{0, 0.5, 0},
		Acceleration:    Vec3{0, -1, 0},
		ServerTimestamp: 123456,
		Flags:           0x80,
	}
	if m, err := DecodeEntityStateUpdate(ent.Marshal()); err != nil || m != ent {
		t.Fatalf("EntityStateUpdate: %+v, %v", m, err)
	}

	pilot := PilotingInput{PlayerID: 2, IslandID: 42, ThrustY: 0.75, RotationYaw: -1.5}
	if m, err := DecodePilotingInput(pilot.Marshal()); err != nil || m != pilot {
		t.Fatalf("PilotingInput: %+v, %v", m, err)
	}
}

func TestWorldState_ZeroesUnusedSlots(t *testing.T) {
	in := WorldState{
		NumIslands: 1,
		IslandPositions: [WorldStateIslands]Vec3{
			{1, 2, 3},
			{9, 9, 9}, // must not reach the wire
			{9, 9, 9},
		},
	}
	m, err := DecodeWorldState(in.Marshal())
	if err != nil {
		t.Fatalf("DecodeWorldState: %v", err)
	}
	if m.IslandPositions[1] != (Vec3{}) || m.IslandPositions[2] != (Vec3{}) {
		t.Fatalf("slots beyond NumIslands not zeroed: %+v", m.IslandPositions)
	}
}

func TestChunkHeader_Payload(t *testing.T) {
	payload := []byte{4, 7, 4, 7} // opaque to the protocol layer
	hdr := CompressedChunkHeader{
		IslandID:       42,
		ChunkCoord:     Vec3{0, 0, 0},
		IslandPosition: Vec3{1, 2, 3},
		OriginalSize:   ChunkVolume,
	}
	b := hdr.Marshal(payload)
	if len(b) != CompressedChunkHeaderSize+len(payload) {
		t.Fatalf("datagram size = %d", len(b))
	}

	got, p, err := DecodeCompressedChunkHeader(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.IslandID != 42 || got.OriginalSize != ChunkVolume || got.CompressedSize != uint32(len(payload)) {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(p, payload) {
		t.Fatalf("payload mismatch: %x", p)
	}

	// Truncated payload is rejected.
	if _, _, err := DecodeCompressedChunkHeader(b[:len(b)-1]); !errors.Is(err, ErrPayload) {
		t.Fatalf("truncated payload: got %v, want ErrPayload", err)
	}
}

func TestIslandHeader_Payload(t *testing.T) {
	payload := []byte{1, 2, 3}
	hdr := CompressedIslandHeader{IslandID: 7, Position: Vec3{1, 2, 3}, OriginalSize: ChunkVolume}
	got, p, err := DecodeCompressedIslandHeader(hdr.Marshal(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.IslandID != 7 || !bytes.Equal(p, payload) {
		t.Fatalf("mismatch: %+v %x", got, p)
	}
}

func TestDecode_ShortAndWrongTag(t *testing.T) {
	if _, err := DecodeWelcome([]byte{byte(TagWelcome)}); !errors.Is(err, ErrShortRecord) {
		t.Fatalf("short: got %v", err)
	}
	b := Welcome{PlayerID: 1}.Marshal()
	b[0] = byte(TagChatMessage)
	if _, err := DecodeWelcome(b); !errors.Is(err, ErrBadTag) {
		t.Fatalf("wrong tag: got %v", err)
	}
	if _, err := PeekTag(nil); !errors.Is(err, ErrShortRecord) {
		t.Fatalf("PeekTag(nil): got %v", err)
	}
	if tag, _ := PeekTag([]byte{200}); tag != Tag(200) {
		t.Fatalf("PeekTag: got %d", tag)
	}
}

func TestChunkIndex_Order(t *testing.T) {
	// x varies fastest, then y, then z.
	if ChunkIndex(0, 0, 0) != 0 || ChunkIndex(1, 0, 0) != 1 {
		t.Fatal("x must vary fastest")
	}
	if ChunkIndex(0, 1, 0) != ChunkSide {
		t.Fatal("y stride must be ChunkSide")
	}
	if ChunkIndex(0, 0, 1) != ChunkSide*ChunkSide {
		t.Fatal("z stride must be ChunkSide^2")
	}
	if ChunkIndex(ChunkSide-1, ChunkSide-1, ChunkSide-1) != ChunkVolume-1 {
		t.Fatal("last coordinate must map to last index")
	}
}
