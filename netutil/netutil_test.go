package netutil

import (
	"net"
	"testing"
)

func TestLocalIPIsParseable(t *testing.T) {
	ip := LocalIP()
	if net.ParseIP(ip) == nil {
		t.Fatalf("LocalIP returned unparseable address: %q", ip)
	}
}

func TestHostFromAddress(t *testing.T) {
	if got := HostFromAddress("10.0.0.1:9000"); got != "10.0.0.1" {
		t.Fatalf("host: %q", got)
	}
	if got := HostFromAddress("justhost"); got != "justhost" {
		t.Fatalf("host without port: %q", got)
	}
}

func TestPortFromAddress(t *testing.T) {
	if got := PortFromAddress("10.0.0.1:9000", 8000); got != 9000 {
		t.Fatalf("port: %d", got)
	}
	if got := PortFromAddress("10.0.0.1", 8000); got != 8000 {
		t.Fatalf("default port: %d", got)
	}
	if got := PortFromAddress("10.0.0.1:bad", 8000); got != 8000 {
		t.Fatalf("invalid port: %d", got)
	}
}

func TestHasIPUnknownAddress(t *testing.T) {
	if HasIP("203.0.113.254") {
		t.Fatal("TEST-NET address must not be on this host")
	}
}
