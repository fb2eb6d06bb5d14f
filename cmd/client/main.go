package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"isleforge/internal/protocol"
	"isleforge/internal/transport"
)

// Headless client: joins a server, wanders around and reports what the
// server sends back. Useful for smoke-testing a running host.
func main() {
	var (
		host = flag.String("host", "localhost", "server host")
		port = flag.Int("port", protocol.DefaultPort, "server port")
		name = flag.String("name", "wanderer", "name announced in chat")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	if err := transport.Initialize(); err != nil {
		logger.Fatalf("init networking: %v", err)
	}
	defer transport.Shutdown()

	c := transport.NewClient(logger)
	chunks := 0
	c.SetCallbacks(transport.ClientCallbacks{
		OnConnected: func() {
			logger.Printf("joined as player %d", c.PlayerID())
			_ = c.SendChatMessage(fmt.Sprintf("%s joined", *name))
		},
		OnDisconnected: func() {
			logger.Printf("session ended")
		},
		OnHelloWorld: func(m protocol.HelloWorld) {
			logger.Printf("server says: %s", m.Message)
		},
		OnChatMessage: func(m protocol.ChatMessage) {
			logger.Printf("chat: %s", m.Message)
		},
		OnWorldState: func(ws protocol.WorldState) {
			logger.Printf("world: %d islands, spawn %v", ws.NumIslands, ws.PlayerSpawn)
		},
		OnCompressedChunk: func(islandID uint32, chunkCoord, islandPos protocol.Vec3, blocks []byte) {
			chunks++
			logger.Printf("chunk %v of island %d (%d bytes, %d total)", chunkCoord, islandID, len(blocks), chunks)
		},
		OnPlayerPositionUpdate: func(m protocol.PlayerPositionUpdate) {
			if m.PlayerID != c.PlayerID() {
				logger.Printf("player %d at %v", m.PlayerID, m.Position)
			}
		},
		OnVoxelChangeUpdate: func(m protocol.VoxelChangeUpdate) {
			logger.Printf("player %d set voxel %v on island %d to %d",
				m.AuthorPlayerID, m.LocalPos, m.IslandID, m.VoxelType)
		},
		OnEntityStateUpdate: func(m protocol.EntityStateUpdate) {
			logger.Printf("entity %d at %v", m.EntityID, m.Position)
		},
	})

	if err := c.Connect(*host, *port); err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	pos := protocol.Vec3{Y: 20}
	const dt = 50 * time.Millisecond
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	tick := 0
	for c.Connected() {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.Tick()
		tick++

		// Wander every second or so.
		if tick%20 == 0 {
			vel := protocol.Vec3{X: r.Float32()*4 - 2, Z: r.Float32()*4 - 2}
			pos.X += vel.X
			pos.Z += vel.Z
			if err := c.SendMovementRequest(pos, vel, 0.5); err != nil {
				logger.Printf("movement: %v", err)
			}
		}
	}
}
