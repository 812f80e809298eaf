// Package netutil provides address helpers shared by the registry, server
// and client components.
package netutil

import (
	"net"
	"strconv"
	"strings"
)

// LocalIP returns the first IPv4 address found on an up, non-loopback
// interface. Falls back to 127.0.0.1 when no such address exists.
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if ip4 := ip.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}

// HasIP reports whether the host owns the given IP on any up, non-loopback
// interface.
func HasIP(target string) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.String() == target {
				return true
			}
		}
	}
	return false
}

// HostFromAddress extracts the host part of a "host:port" string. An address
// without a port is returned unchanged.
func HostFromAddress(address string) string {
	idx := strings.LastIndex(address, ":")
	if idx > 0 {
		return address[:idx]
	}
	return address
}

// PortFromAddress extracts the port part of a "host:port" string, returning
// defaultPort when the address carries no valid port.
func PortFromAddress(address string, defaultPort int) int {
	idx := strings.LastIndex(address, ":")
	if idx > 0 && idx < len(address)-1 {
		if p, err := strconv.Atoi(address[idx+1:]); err == nil {
			return p
		}
	}
	return defaultPort
}
