package transport

import "testing"

func TestManagerHostJoinLeave(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	host := NewManager(testLogger(t))
	if host.Hosting() || host.Joined() {
		t.Fatal("fresh manager reports activity")
	}
	if err := host.Host(0); err != nil {
		t.Fatalf("Host: %v", err)
	}
	t.Cleanup(host.StopHosting)
	if !host.Hosting() {
		t.Fatal("Hosting() false after Host")
	}

	// Listen server: the hosting process joins its own server.
	if err := host.Join("127.0.0.1", host.Server().Port()); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !host.Joined() {
		t.Fatal("Joined() false after Join")
	}

	pump(t, func() bool { return len(host.Server().Peers()) == 1 }, host)

	host.Leave()
	if host.Joined() {
		t.Fatal("Joined() true after Leave")
	}
	pump(t, func() bool { return len(host.Server().Peers()) == 0 }, host)

	host.StopHosting()
	if host.Hosting() {
		t.Fatal("Hosting() true after StopHosting")
	}
}
