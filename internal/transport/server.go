package transport

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"isleforge/internal/codec"
	"isleforge/internal/protocol"
)

// DefaultHelloMessage is what BroadcastHello puts on the wire.
const DefaultHelloMessage = "Hello from server!"

// ServerCallbacks are the seams world-simulation collaborators hook
// into. Absent callbacks are ignored. All callbacks run on the
// goroutine that calls Tick.
type ServerCallbacks struct {
	OnConnect            func(*Peer)
	OnDisconnect         func(*Peer)
	OnMovementRequest    func(*Peer, protocol.PlayerMovementRequest)
	OnVoxelChangeRequest func(*Peer, protocol.VoxelChangeRequest)
	OnChatMessage        func(*Peer, protocol.ChatMessage)
	OnPilotingInput      func(*Peer, protocol.PilotingInput)
}

type serverEventKind int

const (
	evConnect serverEventKind = iota + 1
	evPacket
	evFastPacket
	evDisconnect
)

type serverEvent struct {
	kind serverEventKind
	peer *Peer
	data []byte
}

// Server owns the listening endpoint, the set of connected peers and
// the request side of the protocol. The peer set is mutated only inside
// Tick.
type Server struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	maxPeers    int
	readTimeout time.Duration
	cb          ServerCallbacks

	running  bool
	port     int
	ln       net.Listener
	httpSrv  *http.Server
	fast     *net.UDPConn
	quit     chan struct{}
	events   chan serverEvent
	sessions atomic.Int32

	peers  []*Peer
	nextID atomic.Uint32
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log:         logger,
		maxPeers:    DefaultMaxPeers,
		readTimeout: defaultReadTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetCallbacks installs the world-simulation seams. Call before Start.
func (s *Server) SetCallbacks(cb ServerCallbacks) { s.cb = cb }

// SetMaxPeers bounds concurrent sessions. Call before Start.
func (s *Server) SetMaxPeers(n int) {
	if n > 0 {
		s.maxPeers = n
	}
}

// Start binds the reliable endpoint (TCP) and the fast channel (UDP) to
// port. Port 0 picks an ephemeral port; see Port. Fails if already
// running or if either bind fails.
func (s *Server) Start(port int) error {
	if !initialized.Load() {
		return ErrNotInitialized
	}
	if s.running {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		s.log.Printf("bind tcp :%d: %v", port, err)
		return err
	}
	actual := ln.Addr().(*net.TCPAddr).Port

	fast, err := net.ListenUDP("udp", &net.UDPAddr{Port: actual})
	if err != nil {
		s.log.Printf("bind udp :%d: %v", actual, err)
		_ = ln.Close()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(sessionPath, s.handleSession)

	s.ln = ln
	s.fast = fast
	s.port = actual
	s.quit = make(chan struct{})
	s.events = make(chan serverEvent, eventQueueSize)
	s.httpSrv = &http.Server{Handler: mux}
	s.peers = nil
	s.sessions.Store(0)
	s.running = true

	go func() { _ = s.httpSrv.Serve(ln) }()
	go s.readFastChannel(fast, s.quit, s.events)

	s.log.Printf("hosting on port %d (max %d peers)", actual, s.maxPeers)
	return nil
}

// Port reports the bound port while running.
func (s *Server) Port() int { return s.port }

// Running reports whether the host is up.
func (s *Server) Running() bool { return s.running }

// Stop destroys the host and clears the peer set. No callbacks are
// invoked after Stop returns.
func (s *Server) Stop() {
	if !s.running {
		return
	}
	s.running = false
	close(s.quit)
	_ = s.httpSrv.Close()
	_ = s.fast.Close()
	for _, p := range s.peers {
		p.close()
	}
	s.peers = nil

	// Discard whatever the I/O goroutines queued before they noticed.
	for {
		select {
		case <-s.events:
		default:
			s.log.Printf("host stopped")
			return
		}
	}
}

// Peers returns the live peer set in connection order. The slice is
// read-only for callers and valid until the next Tick.
func (s *Server) Peers() []*Peer { return s.peers }

// handleSession runs on an HTTP goroutine per connecting client. The
// player id is assigned and the Welcome record queued here so the
// client's bounded connect handshake completes without waiting for a
// server tick; the peer joins the set when Tick processes the connect
// event.
func (s *Server) handleSession(rw http.ResponseWriter, r *http.Request) {
	if int(s.sessions.Add(1)) > s.maxPeers {
		s.sessions.Add(-1)
		http.Error(rw, "server full", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Add(-1)

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}

	peer := newPeer(conn, s.log, s.readTimeout)
	peer.id = s.nextID.Add(1)
	if err := peer.send(protocol.Welcome{PlayerID: peer.id}.Marshal()); err != nil {
		s.log.Printf("peer %s: welcome: %v", peer.Addr(), err)
		peer.close()
		return
	}
	if !s.queue(serverEvent{kind: evConnect, peer: peer}) {
		peer.close()
		return
	}

	// A peer that neither sends nor answers pings within the read
	// timeout is gone; the deadline error ends the loop and queues the
	// disconnect.
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		if mt != websocket.BinaryMessage {
			continue
		}
		if !s.queue(serverEvent{kind: evPacket, peer: peer, data: data}) {
			break
		}
	}
	peer.close()
	s.queue(serverEvent{kind: evDisconnect, peer: peer})
}

func (s *Server) queue(ev serverEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// readFastChannel drains the UDP socket. Fast datagrams carry the
// player id themselves; peer resolution happens in Tick.
func (s *Server) readFastChannel(fast *net.UDPConn, quit chan struct{}, events chan serverEvent) {
	buf := make([]byte, fastDatagramMax)
	for {
		n, _, err := fast.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-quit:
			default:
				s.log.Printf("fast channel read: %v", err)
			}
			return
		}
		data := append([]byte(nil), buf[:n]...)
		select {
		case events <- serverEvent{kind: evFastPacket, data: data}:
		case <-quit:
			return
		}
	}
}

// Tick drains all pending transport events without blocking and
// dispatches them.
func (s *Server) Tick() {
	if !s.running {
		return
	}
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		default:
			return
		}
	}
}

func (s *Server) handle(ev serverEvent) {
	switch ev.kind {
	case evConnect:
		s.peers = append(s.peers, ev.peer)
		s.log.Printf("peer %s connected as player %d", ev.peer.Addr(), ev.peer.id)
		if s.cb.OnConnect != nil {
			s.cb.OnConnect(ev.peer)
		}

	case evPacket:
		if s.peerLive(ev.peer) {
			s.dispatch(ev.peer, ev.data)
		}

	case evFastPacket:
		s.dispatchFast(ev.data)

	case evDisconnect:
		if !s.removePeer(ev.peer) {
			return
		}
		s.log.Printf("peer %s (player %d) disconnected", ev.peer.Addr(), ev.peer.ID())
		if s.cb.OnDisconnect != nil {
			s.cb.OnDisconnect(ev.peer)
		}
	}
}

func (s *Server) peerLive(peer *Peer) bool {
	for _, p := range s.peers {
		if p == peer {
			return true
		}
	}
	return false
}

func (s *Server) removePeer(peer *Peer) bool {
	for i, p := range s.peers {
		if p == peer {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Server) peerByID(id uint32) *Peer {
	for _, p := range s.peers {
		if p.id == id {
			return p
		}
	}
	return nil
}

// dispatch routes one reliable-channel record to its callback. A
// malformed or unknown-tag record is dropped with a log line; it never
// reaches a callback.
func (s *Server) dispatch(peer *Peer, data []byte) {
	tag, err := protocol.PeekTag(data)
	if err != nil {
		s.log.Printf("peer %s: empty datagram dropped", peer.Addr())
		return
	}
	switch tag {
	case protocol.TagPlayerMovementRequest:
		m, err := protocol.DecodePlayerMovementRequest(data)
		if err != nil {
			s.log.Printf("peer %s: malformed movement request: %v", peer.Addr(), err)
			return
		}
		if s.cb.OnMovementRequest != nil {
			s.cb.OnMovementRequest(peer, m)
		}

	case protocol.TagVoxelChangeRequest:
		m, err := protocol.DecodeVoxelChangeRequest(data)
		if err != nil {
			s.log.Printf("peer %s: malformed voxel change request: %v", peer.Addr(), err)
			return
		}
		if s.cb.OnVoxelChangeRequest != nil {
			s.cb.OnVoxelChangeRequest(peer, m)
		}

	case protocol.TagChatMessage:
		m, err := protocol.DecodeChatMessage(data)
		if err != nil {
			s.log.Printf("peer %s: malformed chat message: %v", peer.Addr(), err)
			return
		}
		if s.cb.OnChatMessage != nil {
			s.cb.OnChatMessage(peer, m)
		}

	case protocol.TagPilotingInput:
		// Piloting normally rides the fast channel, but accept it on
		// the session too.
		m, err := protocol.DecodePilotingInput(data)
		if err != nil {
			s.log.Printf("peer %s: malformed piloting input: %v", peer.Addr(), err)
			return
		}
		if s.cb.OnPilotingInput != nil {
			s.cb.OnPilotingInput(peer, m)
		}

	default:
		s.log.Printf("peer %s: unknown tag %d dropped", peer.Addr(), tag)
	}
}

func (s *Server) dispatchFast(data []byte) {
	m, err := protocol.DecodePilotingInput(data)
	if err != nil {
		s.log.Printf("fast channel: malformed datagram dropped: %v", err)
		return
	}
	peer := s.peerByID(m.PlayerID)
	if peer == nil {
		s.log.Printf("fast channel: piloting input for unknown player %d dropped", m.PlayerID)
		return
	}
	if s.cb.OnPilotingInput != nil {
		s.cb.OnPilotingInput(peer, m)
	}
}

// broadcast reliable-sends one marshalled record to every peer.
// Individual send failures are logged and non-fatal.
func (s *Server) broadcast(b []byte) {
	for _, p := range s.peers {
		if err := p.send(b); err != nil {
			s.log.Printf("broadcast to %s: %v", p.Addr(), err)
		}
	}
}

func (s *Server) BroadcastHello() {
	s.broadcast(protocol.HelloWorld{Message: DefaultHelloMessage}.Marshal())
}

func (s *Server) BroadcastChat(msg string) {
	s.broadcast(protocol.ChatMessage{Message: msg}.Marshal())
}

// BroadcastPlayerPosition publishes the authoritative position of one
// player. seq echoes the originating movement request so the owning
// client can reconcile.
func (s *Server) BroadcastPlayerPosition(playerID, seq uint32, pos, vel protocol.Vec3) {
	s.broadcast(protocol.PlayerPositionUpdate{
		PlayerID: playerID,
		Seq:      seq,
		Position: pos,
		Velocity: vel,
	}.Marshal())
}

func (s *Server) BroadcastEntityState(u protocol.EntityStateUpdate) {
	s.broadcast(u.Marshal())
}

func (s *Server) BroadcastVoxelChange(seq, islandID uint32, localPos protocol.Vec3, voxelType uint8, authorPlayerID uint32) {
	s.broadcast(protocol.VoxelChangeUpdate{
		Seq:            seq,
		IslandID:       islandID,
		LocalPos:       localPos,
		VoxelType:      voxelType,
		AuthorPlayerID: authorPlayerID,
	}.Marshal())
}

// SendWorldState point-sends the island layout to one peer.
func (s *Server) SendWorldState(p *Peer, ws protocol.WorldState) error {
	return p.send(ws.Marshal())
}

// SendCompressedIsland compresses a chunk-sized buffer and point-sends
// it with an island header. If compression fails or the result exceeds
// the datagram bound, nothing is sent; there is no uncompressed
// fallback.
func (s *Server) SendCompressedIsland(p *Peer, islandID uint32, pos protocol.Vec3, raw []byte) error {
	enc, err := s.compressChunk(raw)
	if err != nil {
		return err
	}
	hdr := protocol.CompressedIslandHeader{
		IslandID:     islandID,
		Position:     pos,
		OriginalSize: protocol.ChunkVolume,
	}
	return p.send(hdr.Marshal(enc))
}

// SendCompressedChunk compresses a chunk-sized buffer and point-sends
// it with a chunk header. Same failure rules as SendCompressedIsland.
func (s *Server) SendCompressedChunk(p *Peer, islandID uint32, chunkCoord, islandPos protocol.Vec3, raw []byte) error {
	enc, err := s.compressChunk(raw)
	if err != nil {
		return err
	}
	hdr := protocol.CompressedChunkHeader{
		IslandID:       islandID,
		ChunkCoord:     chunkCoord,
		IslandPosition: islandPos,
		OriginalSize:   protocol.ChunkVolume,
	}
	return p.send(hdr.Marshal(enc))
}

func (s *Server) compressChunk(raw []byte) ([]byte, error) {
	if len(raw) != protocol.ChunkVolume {
		return nil, ErrChunkSize
	}
	enc, err := codec.Compress(raw)
	if err != nil {
		s.log.Printf("chunk compression failed: %v", err)
		return nil, err
	}
	if len(enc) > protocol.MaxCompressedPayload {
		s.log.Printf("compressed chunk %d bytes exceeds bound %d", len(enc), protocol.MaxCompressedPayload)
		return nil, ErrPayloadTooLarge
	}
	return enc, nil
}
