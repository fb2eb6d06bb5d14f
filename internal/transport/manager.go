package transport

import (
	"log"

	"isleforge/internal/protocol"
)

// Manager composes one server and one client so a single process can
// host, join, or do neither. Hosting and joining are independent: a
// listen server process does both at once.
type Manager struct {
	log    *log.Logger
	server *Server
	client *Client
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		log:    logger,
		server: NewServer(logger),
		client: NewClient(logger),
	}
}

// Server exposes the composed server for callback wiring and sends.
func (m *Manager) Server() *Server { return m.server }

// Client exposes the composed client for callback wiring and sends.
func (m *Manager) Client() *Client { return m.client }

// Host starts the authoritative server. port <= 0 selects the default
// port.
func (m *Manager) Host(port int) error {
	if port <= 0 {
		port = protocol.DefaultPort
	}
	return m.server.Start(port)
}

// StopHosting shuts the server down and drops every peer.
func (m *Manager) StopHosting() {
	m.server.Stop()
}

// Join connects the client to a server. port <= 0 selects the default
// port.
func (m *Manager) Join(host string, port int) error {
	return m.client.Connect(host, port)
}

// Leave disconnects the client session if one is active.
func (m *Manager) Leave() {
	m.client.Disconnect()
}

// Tick advances whichever endpoints are active, draining all pending
// transport events without blocking.
func (m *Manager) Tick() {
	m.server.Tick()
	m.client.Tick()
}

// Hosting reports whether the composed server is running.
func (m *Manager) Hosting() bool { return m.server.Running() }

// Joined reports whether the composed client has a session.
func (m *Manager) Joined() bool { return m.client.Connected() }
