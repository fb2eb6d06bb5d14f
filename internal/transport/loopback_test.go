package transport

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"isleforge/internal/protocol"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(os.Stderr, "["+t.Name()+"] ", log.Lmicroseconds)
}

func startServer(t *testing.T) *Server {
	t.Helper()
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s := NewServer(testLogger(t))
	if err := s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func connectClient(t *testing.T, s *Server) *Client {
	t.Helper()
	c := NewClient(testLogger(t))
	if err := c.Connect("127.0.0.1", s.Port()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if c.Connected() {
			c.Disconnect()
		}
	})
	return c
}

type ticker interface{ Tick() }

// pump ticks everything every ~10ms until the condition holds, for at
// most 100 ticks.
func pump(t *testing.T, cond func() bool, ts ...ticker) {
	t.Helper()
	for i := 0; i < 100; i++ {
		for _, tk := range ts {
			tk.Tick()
		}
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached within 100 ticks")
}

// s2Buffer is the patterned chunk from the codec scenarios: 8192 ones,
// 8192 twos, 16384 zeroes.
func s2Buffer() []byte {
	b := make([]byte, protocol.ChunkVolume)
	for i := 0; i < 8192; i++ {
		b[i] = 1
	}
	for i := 8192; i < 16384; i++ {
		b[i] = 2
	}
	return b
}

func TestLoopbackHello(t *testing.T) {
	s := startServer(t)
	c := connectClient(t, s)

	var connected bool
	var hello string
	c.SetCallbacks(ClientCallbacks{
		OnConnected:  func() { connected = true },
		OnHelloWorld: func(m protocol.HelloWorld) { hello = m.Message },
	})

	pump(t, func() bool { return connected && len(s.Peers()) == 1 }, s, c)

	s.BroadcastHello()
	pump(t, func() bool { return hello != "" }, s, c)

	if hello != "Hello from server!" {
		t.Fatalf("hello message = %q", hello)
	}
}

func TestWelcomeAssignsDistinctPlayerIDs(t *testing.T) {
	s := startServer(t)
	a := connectClient(t, s)
	b := connectClient(t, s)

	if a.PlayerID() == 0 || b.PlayerID() == 0 {
		t.Fatalf("player ids not assigned: %d, %d", a.PlayerID(), b.PlayerID())
	}
	if a.PlayerID() == b.PlayerID() {
		t.Fatalf("duplicate player id %d", a.PlayerID())
	}
}

func TestChunkDelivery(t *testing.T) {
	s := startServer(t)
	c := connectClient(t, s)

	raw := s2Buffer()
	var got []byte
	var gotID uint32
	var gotCoord, gotPos protocol.Vec3
	c.SetCallbacks(ClientCallbacks{
		OnCompressedChunk: func(islandID uint32, coord, pos protocol.Vec3, blocks []byte) {
			gotID = islandID
			gotCoord = coord
			gotPos = pos
			got = append([]byte(nil), blocks...)
		},
	})

	pump(t, func() bool { return len(s.Peers()) == 1 }, s, c)
	peer := s.Peers()[0]
	if err := s.SendCompressedChunk(peer, 42, protocol.Vec3{}, protocol.Vec3{X: 1, Y: 2, Z: 3}, raw); err != nil {
		t.Fatalf("SendCompressedChunk: %v", err)
	}

	pump(t, func() bool { return got != nil }, s, c)

	if gotID != 42 || gotCoord != (protocol.Vec3{}) || gotPos != (protocol.Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("header fields: id=%d coord=%v pos=%v", gotID, gotCoord, gotPos)
	}
	if len(got) != protocol.ChunkVolume || !bytes.Equal(got, raw) {
		t.Fatalf("decoded chunk differs from sent chunk")
	}
}

func TestIslandDelivery(t *testing.T) {
	s := startServer(t)
	c := connectClient(t, s)

	raw := make([]byte, protocol.ChunkVolume) // all air
	var got []byte
	c.SetCallbacks(ClientCallbacks{
		OnCompressedIsland: func(islandID uint32, pos protocol.Vec3, blocks []byte) {
			got = append([]byte(nil), blocks...)
		},
	})

	pump(t, func() bool { return len(s.Peers()) == 1 }, s, c)
	if err := s.SendCompressedIsland(s.Peers()[0], 7, protocol.Vec3{Y: 100}, raw); err != nil {
		t.Fatalf("SendCompressedIsland: %v", err)
	}
	pump(t, func() bool { return got != nil }, s, c)
	if !bytes.Equal(got, raw) {
		t.Fatalf("decoded island differs from sent buffer")
	}
}

func TestSendCompressedChunk_BadSize(t *testing.T) {
	s := startServer(t)
	c := connectClient(t, s)
	pump(t, func() bool { return len(s.Peers()) == 1 }, s, c)

	err := s.SendCompressedChunk(s.Peers()[0], 1, protocol.Vec3{}, protocol.Vec3{}, make([]byte, 100))
	if err == nil {
		t.Fatal("expected error for non-chunk-sized buffer")
	}
}

func TestUnknownTagIgnored(t *testing.T) {
	s := startServer(t)

	url := fmt.Sprintf("ws://127.0.0.1:%d%s", s.Port(), sessionPath)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, _, err := conn.ReadMessage(); err != nil { // welcome
		t.Fatalf("welcome: %v", err)
	}

	pump(t, func() bool { return len(s.Peers()) == 1 }, s)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{200, 1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The datagram is dropped; the peer stays connected.
	time.Sleep(50 * time.Millisecond)
	s.Tick()
	if len(s.Peers()) != 1 {
		t.Fatalf("peer set changed after unknown tag: %d peers", len(s.Peers()))
	}
}

func TestDeadPeerTimesOut(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s := NewServer(testLogger(t))
	s.readTimeout = 300 * time.Millisecond
	if err := s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	var disconnected bool
	s.SetCallbacks(ServerCallbacks{
		OnDisconnect: func(*Peer) { disconnected = true },
	})

	// A raw dial that reads the welcome and then goes silent: no close
	// handshake, no reads, so no pongs ever come back.
	url := fmt.Sprintf("ws://127.0.0.1:%d%s", s.Port(), sessionPath)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, _, err := conn.ReadMessage(); err != nil { // welcome
		t.Fatalf("welcome: %v", err)
	}

	pump(t, func() bool { return len(s.Peers()) == 1 }, s)

	// The vanished peer must hit the read deadline and leave the set.
	pump(t, func() bool { return disconnected && len(s.Peers()) == 0 }, s)
}

func TestVoxelEditBroadcast(t *testing.T) {
	s := startServer(t)

	// Wiring layer: accept every edit and broadcast it back.
	s.SetCallbacks(ServerCallbacks{
		OnVoxelChangeRequest: func(p *Peer, m protocol.VoxelChangeRequest) {
			s.BroadcastVoxelChange(m.Seq, m.IslandID, m.LocalPos, m.VoxelType, p.ID())
		},
	})

	a := connectClient(t, s)
	b := connectClient(t, s)

	var gotA, gotB *protocol.VoxelChangeUpdate
	a.SetCallbacks(ClientCallbacks{
		OnVoxelChangeUpdate: func(m protocol.VoxelChangeUpdate) { gotA = &m },
	})
	b.SetCallbacks(ClientCallbacks{
		OnVoxelChangeUpdate: func(m protocol.VoxelChangeUpdate) { gotB = &m },
	})

	pump(t, func() bool { return len(s.Peers()) == 2 }, s, a, b)

	if err := a.SendVoxelChangeRequest(7, protocol.Vec3{X: 3, Y: 4, Z: 5}, 1); err != nil {
		t.Fatalf("SendVoxelChangeRequest: %v", err)
	}

	pump(t, func() bool { return gotA != nil && gotB != nil }, s, a, b)

	for name, got := range map[string]*protocol.VoxelChangeUpdate{"A": gotA, "B": gotB} {
		if got.IslandID != 7 || got.LocalPos != (protocol.Vec3{X: 3, Y: 4, Z: 5}) || got.VoxelType != 1 {
			t.Fatalf("client %s: update fields %+v", name, got)
		}
		if got.AuthorPlayerID != a.PlayerID() {
			t.Fatalf("client %s: author = %d, want %d", name, got.AuthorPlayerID, a.PlayerID())
		}
	}
}

func TestSequenceMonotonicity(t *testing.T) {
	s := startServer(t)

	var seqs []uint32
	s.SetCallbacks(ServerCallbacks{
		OnMovementRequest: func(_ *Peer, m protocol.PlayerMovementRequest) {
			seqs = append(seqs, m.Seq)
		},
		OnVoxelChangeRequest: func(_ *Peer, m protocol.VoxelChangeRequest) {
			seqs = append(seqs, m.Seq)
		},
	})

	c := connectClient(t, s)
	pump(t, func() bool { return len(s.Peers()) == 1 }, s, c)

	const n = 10
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			if err := c.SendMovementRequest(protocol.Vec3{}, protocol.Vec3{}, 0.016); err != nil {
				t.Fatalf("movement %d: %v", i, err)
			}
		} else {
			if err := c.SendVoxelChangeRequest(1, protocol.Vec3{}, 2); err != nil {
				t.Fatalf("voxel %d: %v", i, err)
			}
		}
	}

	pump(t, func() bool { return len(seqs) == n }, s, c)

	for i, seq := range seqs {
		if seq != uint32(i) {
			t.Fatalf("seq[%d] = %d, want %d (reliable channel preserves order)", i, seq, i)
		}
	}
}

func TestPeerSetTracksConnectsAndDisconnects(t *testing.T) {
	s := startServer(t)

	var connects, disconnects int
	s.SetCallbacks(ServerCallbacks{
		OnConnect:    func(*Peer) { connects++ },
		OnDisconnect: func(*Peer) { disconnects++ },
	})

	a := connectClient(t, s)
	b := connectClient(t, s)
	pump(t, func() bool { return len(s.Peers()) == 2 }, s, a, b)
	if connects != 2 {
		t.Fatalf("connects = %d, want 2", connects)
	}

	a.Disconnect()
	pump(t, func() bool { return len(s.Peers()) == 1 }, s, b)
	if disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", disconnects)
	}
	if s.Peers()[0].ID() != b.PlayerID() {
		t.Fatalf("remaining peer id = %d, want %d", s.Peers()[0].ID(), b.PlayerID())
	}
}

func TestPilotingInputFastChannel(t *testing.T) {
	s := startServer(t)

	var got *protocol.PilotingInput
	var from uint32
	s.SetCallbacks(ServerCallbacks{
		OnPilotingInput: func(p *Peer, m protocol.PilotingInput) {
			got = &m
			from = p.ID()
		},
	})

	c := connectClient(t, s)
	pump(t, func() bool { return len(s.Peers()) == 1 }, s, c)

	// Unsequenced datagrams may drop; resend until one lands.
	pump(t, func() bool {
		if got == nil {
			_ = c.SendPilotingInput(42, 0.5, -0.25)
		}
		return got != nil
	}, s, c)

	if from != c.PlayerID() || got.IslandID != 42 || got.ThrustY != 0.5 || got.RotationYaw != -0.25 {
		t.Fatalf("piloting input: from=%d %+v", from, got)
	}
}

func TestChatRoundTrip(t *testing.T) {
	s := startServer(t)
	s.SetCallbacks(ServerCallbacks{
		OnChatMessage: func(p *Peer, m protocol.ChatMessage) {
			s.BroadcastChat(fmt.Sprintf("player %d: %s", p.ID(), m.Message))
		},
	})

	c := connectClient(t, s)
	var got string
	c.SetCallbacks(ClientCallbacks{
		OnChatMessage: func(m protocol.ChatMessage) { got = m.Message },
	})

	pump(t, func() bool { return len(s.Peers()) == 1 }, s, c)
	if err := c.SendChatMessage("hello island"); err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	pump(t, func() bool { return got != "" }, s, c)

	want := fmt.Sprintf("player %d: hello island", c.PlayerID())
	if got != want {
		t.Fatalf("chat = %q, want %q", got, want)
	}
}

func TestServerFullRejectsConnect(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s := NewServer(testLogger(t))
	s.SetMaxPeers(1)
	if err := s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	_ = connectClient(t, s)

	late := NewClient(testLogger(t))
	if err := late.Connect("127.0.0.1", s.Port()); err == nil {
		late.Disconnect()
		t.Fatal("expected connect to fail against a full server")
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := startServer(t)
	if err := s.Start(0); err != ErrAlreadyRunning {
		t.Fatalf("second Start: got %v, want ErrAlreadyRunning", err)
	}
}

func TestConnectWithoutServerFails(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	c := NewClient(testLogger(t))
	start := time.Now()
	if err := c.Connect("127.0.0.1", 1); err == nil {
		t.Fatal("expected connect failure")
	}
	if elapsed := time.Since(start); elapsed > connectTimeout+time.Second {
		t.Fatalf("connect failure took %v, bound is %v", elapsed, connectTimeout)
	}
}

func TestUninitializedRefusesStart(t *testing.T) {
	Shutdown()
	defer func() {
		if err := Initialize(); err != nil {
			t.Fatalf("re-Initialize: %v", err)
		}
	}()

	s := NewServer(testLogger(t))
	if err := s.Start(0); err != ErrNotInitialized {
		t.Fatalf("Start: got %v, want ErrNotInitialized", err)
	}
	c := NewClient(testLogger(t))
	if err := c.Connect("127.0.0.1", protocol.DefaultPort); err != ErrNotInitialized {
		t.Fatalf("Connect: got %v, want ErrNotInitialized", err)
	}
}
