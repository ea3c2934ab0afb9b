// Package addrutil normalizes the address spellings found in API responses,
// OpenVPN output and interface listings.
package addrutil

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Host returns the host part of addr. It accepts a bare host or IP, an IP
// with a prefix length ("10.10.14.7/23"), "host:port" and "[v6]:port".
func Host(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	if p, err := netip.ParsePrefix(a); err == nil {
		return p.Addr().String()
	}
	if ip, err := netip.ParseAddr(strings.Trim(a, "[]")); err == nil {
		return ip.String()
	}
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// Unbracketed "v6:port" that did not parse as an address above.
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				return a[:last]
			}
		}
	}
	return a
}

// IP parses the host part of addr as an IP address.
func IP(addr string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(Host(addr))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// SameIP reports whether a and b name the same IP address.
func SameIP(a, b string) bool {
	x, ok := IP(a)
	if !ok {
		return false
	}
	y, ok := IP(b)
	return ok && x == y
}
