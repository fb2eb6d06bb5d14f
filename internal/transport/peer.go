package transport

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is one connected client seen from the server. It is created on
// connect, owned by the server while live, and destroyed on disconnect.
type Peer struct {
	id   uint32
	conn *websocket.Conn
	addr net.Addr
	log  *log.Logger

	pingPeriod time.Duration

	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newPeer(conn *websocket.Conn, logger *log.Logger, readTimeout time.Duration) *Peer {
	p := &Peer{
		conn: conn,
		addr: conn.RemoteAddr(),
		log:  logger,
		// Ping inside the read window so a live client's pongs always
		// arrive before the deadline.
		pingPeriod: readTimeout * 9 / 10,
		out:        make(chan []byte, peerQueueSize),
		done:       make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// ID is the server-assigned player id, zero until the connect event has
// been processed.
func (p *Peer) ID() uint32 { return p.id }

// Addr is the remote endpoint address.
func (p *Peer) Addr() net.Addr { return p.addr }

// send queues one reliable datagram. A full queue means the peer cannot
// keep up; the datagram is dropped and the failure surfaces to the
// caller, which logs it and keeps the host alive.
func (p *Peer) send(b []byte) error {
	select {
	case p.out <- b:
		return nil
	case <-p.done:
		return ErrNotConnected
	default:
		return ErrQueueFull
	}
}

func (p *Peer) writeLoop() {
	ticker := time.NewTicker(p.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case b := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				p.log.Printf("peer %s: write: %v", p.addr, err)
				p.close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.log.Printf("peer %s: ping: %v", p.addr, err)
				p.close()
				return
			}
		}
	}
}

func (p *Peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
