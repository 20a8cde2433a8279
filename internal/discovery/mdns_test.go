// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager setup and conversion of mDNS answers
package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Player", Port: 1704})
	defer mgr.Stop()

	if mgr.serviceType() != PlayerService {
		t.Errorf("expected %s, got %s", PlayerService, mgr.serviceType())
	}

	server := NewManager(Config{ServiceName: "Test Server", Port: 1704, ServerMode: true})
	defer server.Stop()

	if server.serviceType() != ServerService {
		t.Errorf("expected %s, got %s", ServerService, server.serviceType())
	}
}

func TestServerFromEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *mdns.ServiceEntry
		wantOK   bool
		wantName string
		wantPath string
	}{
		{
			name: "server with path",
			entry: &mdns.ServiceEntry{
				Name:       "Living Room._snapsync-server._tcp.local.",
				AddrV4:     net.IPv4(192, 168, 1, 20),
				Port:       1704,
				InfoFields: []string{"path=/stream"},
			},
			wantOK:   true,
			wantName: "Living Room",
			wantPath: "/stream",
		},
		{
			name: "default path",
			entry: &mdns.ServiceEntry{
				Name:   "Office._snapsync-server._tcp.local.",
				AddrV4: net.IPv4(10, 0, 0, 5),
				Port:   1780,
			},
			wantOK:   true,
			wantName: "Office",
			wantPath: "/snapsync",
		},
		{
			name: "ipv6 only",
			entry: &mdns.ServiceEntry{
				Name:   "Attic._snapsync-server._tcp.local.",
				AddrV6: net.ParseIP("fe80::1"),
				Port:   1704,
			},
		},
		{
			name: "player answer",
			entry: &mdns.ServiceEntry{
				Name:   "Kitchen._snapsync._tcp.local.",
				AddrV4: net.IPv4(10, 0, 0, 6),
				Port:   1704,
			},
		},
		{
			name: "nil entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, ok := serverFromEntry(tt.entry)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if server.Name != tt.wantName || server.Path != tt.wantPath {
				t.Errorf("unexpected server %+v", server)
			}
		})
	}
}

func TestServerInfoAddr(t *testing.T) {
	s := ServerInfo{Host: "192.168.1.20", Port: 1704}
	if s.Addr() != "192.168.1.20:1704" {
		t.Errorf("unexpected addr %s", s.Addr())
	}
}

func TestWaitForServer(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Player"})
	defer mgr.Stop()

	mgr.servers <- &ServerInfo{Name: "found", Host: "10.0.0.1", Port: 1704}

	server, err := mgr.WaitForServer(context.Background(), time.Second)
	if err != nil || server.Name != "found" {
		t.Fatalf("expected queued server, got %v %v", server, err)
	}

	_, err = mgr.WaitForServer(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}
