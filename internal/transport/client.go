package transport

import (
	"log"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"isleforge/internal/codec"
	"isleforge/internal/protocol"
)

// ClientCallbacks are the inbound seams. Absent callbacks are ignored.
// Chunk byte slices are valid only for the duration of the callback.
type ClientCallbacks struct {
	OnConnected    func()
	OnDisconnected func()

	OnHelloWorld           func(protocol.HelloWorld)
	OnChatMessage          func(protocol.ChatMessage)
	OnPlayerPositionUpdate func(protocol.PlayerPositionUpdate)
	OnWorldState           func(protocol.WorldState)
	OnVoxelChangeUpdate    func(protocol.VoxelChangeUpdate)
	OnEntityStateUpdate    func(protocol.EntityStateUpdate)

	OnCompressedIsland func(islandID uint32, pos protocol.Vec3, blocks []byte)
	OnCompressedChunk  func(islandID uint32, chunkCoord, islandPos protocol.Vec3, blocks []byte)
}

type clientEventKind int

const (
	cevConnected clientEventKind = iota + 1
	cevPacket
	cevDisconnected
)

type clientEvent struct {
	kind clientEventKind
	data []byte
}

// Client maintains at most one server session, stamps outbound requests
// with a per-session sequence number and delivers decoded inbound
// records to the registered callbacks. Chunk records arrive at the
// callbacks already decompressed.
type Client struct {
	log *log.Logger
	cb  ClientCallbacks

	connected bool
	conn      *websocket.Conn
	fast      *net.UDPConn
	quit      chan struct{}
	events    chan clientEvent

	playerID uint32
	seq      uint32
}

func NewClient(logger *log.Logger) *Client {
	return &Client{log: logger}
}

// SetCallbacks installs the inbound seams. Call before Connect.
func (c *Client) SetCallbacks(cb ClientCallbacks) { c.cb = cb }

// Connected reports whether a session is active.
func (c *Client) Connected() bool { return c.connected }

// PlayerID is the server-assigned id for this session, zero when not
// connected.
func (c *Client) PlayerID() uint32 { return c.playerID }

// Connect synchronously opens a session, waiting at most five seconds
// for the handshake (dial plus the server's Welcome record). On success
// OnConnected fires on the next Tick.
func (c *Client) Connect(host string, port int) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	if c.connected {
		return ErrAlreadyConnected
	}
	if port <= 0 {
		port = protocol.DefaultPort
	}

	hostport := net.JoinHostPort(host, strconv.Itoa(port))
	u := url.URL{Scheme: "ws", Host: hostport, Path: sessionPath}
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		c.log.Printf("connect %s: %v", hostport, err)
		return err
	}

	// The Welcome record is part of the bounded handshake.
	_ = conn.SetReadDeadline(time.Now().Add(connectTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		c.log.Printf("connect %s: welcome: %v", hostport, err)
		_ = conn.Close()
		return err
	}
	welcome, err := protocol.DecodeWelcome(data)
	if err != nil {
		c.log.Printf("connect %s: bad welcome: %v", hostport, err)
		_ = conn.Close()
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	fastAddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		_ = conn.Close()
		return err
	}
	fast, err := net.DialUDP("udp", nil, fastAddr)
	if err != nil {
		c.log.Printf("connect %s: fast channel: %v", hostport, err)
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.fast = fast
	c.playerID = welcome.PlayerID
	c.seq = 0
	c.quit = make(chan struct{})
	c.events = make(chan clientEvent, eventQueueSize)
	c.connected = true

	c.events <- clientEvent{kind: cevConnected}
	go c.readLoop(conn, c.quit, c.events)

	c.log.Printf("connected to %s as player %d", hostport, welcome.PlayerID)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, quit chan struct{}, events chan clientEvent) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		select {
		case events <- clientEvent{kind: cevPacket, data: data}:
		case <-quit:
			return
		}
	}
	select {
	case events <- clientEvent{kind: cevDisconnected}:
	case <-quit:
	}
}

// Disconnect gracefully terminates the session, waiting up to three
// seconds for the close handshake, then resets. In-flight sends may or
// may not have reached the server. OnDisconnected fires once.
func (c *Client) Disconnect() {
	if !c.connected {
		return
	}
	deadline := time.Now().Add(disconnectTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	// Wait for the server's close (the read loop queues a disconnect
	// event when it sees it).
	timeout := time.NewTimer(disconnectTimeout)
	defer timeout.Stop()
waiting:
	for {
		select {
		case ev := <-c.events:
			if ev.kind == cevDisconnected {
				break waiting
			}
			// Late packets during teardown are dropped.
		case <-timeout.C:
			break waiting
		}
	}

	c.teardown()
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected()
	}
}

func (c *Client) teardown() {
	close(c.quit)
	_ = c.conn.Close()
	_ = c.fast.Close()
	c.conn = nil
	c.fast = nil
	c.connected = false
	c.playerID = 0
}

// Tick drains pending inbound events without blocking and dispatches
// them to callbacks.
func (c *Client) Tick() {
	if !c.connected {
		return
	}
	for {
		select {
		case ev := <-c.events:
			switch ev.kind {
			case cevConnected:
				if c.cb.OnConnected != nil {
					c.cb.OnConnected()
				}
			case cevPacket:
				c.dispatch(ev.data)
			case cevDisconnected:
				c.log.Printf("session lost")
				c.teardown()
				if c.cb.OnDisconnected != nil {
					c.cb.OnDisconnected()
				}
				return
			}
		default:
			return
		}
	}
}

// nextSeq returns the stamp for the next outbound request. Sequence
// numbers start at zero and increase by one per request for the
// lifetime of the session.
func (c *Client) nextSeq() uint32 {
	seq := c.seq
	c.seq++
	return seq
}

func (c *Client) write(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

// SendMovementRequest reliable-sends the client's intended movement.
func (c *Client) SendMovementRequest(pos, vel protocol.Vec3, deltaTime float32) error {
	if !c.connected {
		return ErrNotConnected
	}
	return c.write(protocol.PlayerMovementRequest{
		Seq:       c.nextSeq(),
		Position:  pos,
		Velocity:  vel,
		DeltaTime: deltaTime,
	}.Marshal())
}

// SendVoxelChangeRequest reliable-sends one voxel edit.
func (c *Client) SendVoxelChangeRequest(islandID uint32, localPos protocol.Vec3, voxelType uint8) error {
	if !c.connected {
		return ErrNotConnected
	}
	return c.write(protocol.VoxelChangeRequest{
		Seq:       c.nextSeq(),
		IslandID:  islandID,
		LocalPos:  localPos,
		VoxelType: voxelType,
	}.Marshal())
}

// SendChatMessage reliable-sends a chat line.
func (c *Client) SendChatMessage(msg string) error {
	if !c.connected {
		return ErrNotConnected
	}
	return c.write(protocol.ChatMessage{Message: msg}.Marshal())
}

// SendPilotingInput goes over the unsequenced fast channel: it may be
// dropped or reordered and consumes no sequence number.
func (c *Client) SendPilotingInput(islandID uint32, thrustY, rotationYaw float32) error {
	if !c.connected {
		return ErrNotConnected
	}
	_, err := c.fast.Write(protocol.PilotingInput{
		PlayerID:    c.playerID,
		IslandID:    islandID,
		ThrustY:     thrustY,
		RotationYaw: rotationYaw,
	}.Marshal())
	return err
}

// dispatch routes one inbound record. Malformed records and codec
// failures are dropped with a log line; the callback is not invoked.
func (c *Client) dispatch(data []byte) {
	tag, err := protocol.PeekTag(data)
	if err != nil {
		c.log.Printf("empty datagram dropped")
		return
	}
	switch tag {
	case protocol.TagHelloWorld:
		m, err := protocol.DecodeHelloWorld(data)
		if err != nil {
			c.log.Printf("malformed hello: %v", err)
			return
		}
		if c.cb.OnHelloWorld != nil {
			c.cb.OnHelloWorld(m)
		}

	case protocol.TagChatMessage:
		m, err := protocol.DecodeChatMessage(data)
		if err != nil {
			c.log.Printf("malformed chat: %v", err)
			return
		}
		if c.cb.OnChatMessage != nil {
			c.cb.OnChatMessage(m)
		}

	case protocol.TagPlayerPositionUpdate:
		m, err := protocol.DecodePlayerPositionUpdate(data)
		if err != nil {
			c.log.Printf("malformed position update: %v", err)
			return
		}
		if c.cb.OnPlayerPositionUpdate != nil {
			c.cb.OnPlayerPositionUpdate(m)
		}

	case protocol.TagWorldState:
		m, err := protocol.DecodeWorldState(data)
		if err != nil {
			c.log.Printf("malformed world state: %v", err)
			return
		}
		if c.cb.OnWorldState != nil {
			c.cb.OnWorldState(m)
		}

	case protocol.TagVoxelChangeUpdate:
		m, err := protocol.DecodeVoxelChangeUpdate(data)
		if err != nil {
			c.log.Printf("malformed voxel update: %v", err)
			return
		}
		if c.cb.OnVoxelChangeUpdate != nil {
			c.cb.OnVoxelChangeUpdate(m)
		}

	case protocol.TagEntityStateUpdate:
		m, err := protocol.DecodeEntityStateUpdate(data)
		if err != nil {
			c.log.Printf("malformed entity update: %v", err)
			return
		}
		if c.cb.OnEntityStateUpdate != nil {
			c.cb.OnEntityStateUpdate(m)
		}

	case protocol.TagCompressedIslandHeader:
		hdr, payload, err := protocol.DecodeCompressedIslandHeader(data)
		if err != nil {
			c.log.Printf("malformed island record: %v", err)
			return
		}
		blocks, ok := c.decompress(hdr.OriginalSize, payload)
		if !ok {
			return
		}
		if c.cb.OnCompressedIsland != nil {
			c.cb.OnCompressedIsland(hdr.IslandID, hdr.Position, blocks)
		}

	case protocol.TagCompressedChunkHeader:
		hdr, payload, err := protocol.DecodeCompressedChunkHeader(data)
		if err != nil {
			c.log.Printf("malformed chunk record: %v", err)
			return
		}
		blocks, ok := c.decompress(hdr.OriginalSize, payload)
		if !ok {
			return
		}
		if c.cb.OnCompressedChunk != nil {
			c.cb.OnCompressedChunk(hdr.IslandID, hdr.ChunkCoord, hdr.IslandPosition, blocks)
		}

	case protocol.TagWelcome:
		// Consumed during Connect; a repeat is harmless.

	default:
		c.log.Printf("unknown tag %d dropped", tag)
	}
}

func (c *Client) decompress(originalSize uint32, payload []byte) ([]byte, bool) {
	if originalSize != protocol.ChunkVolume {
		c.log.Printf("chunk record declares %d bytes, want %d: dropped", originalSize, protocol.ChunkVolume)
		return nil, false
	}
	blocks, err := codec.Decompress(payload, protocol.ChunkVolume)
	if err != nil {
		c.log.Printf("chunk decompression failed: %v", err)
		return nil, false
	}
	return blocks, true
}
