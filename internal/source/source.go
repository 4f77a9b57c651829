// Package source detects the public address that the managed DNS record
// should point at.
package source

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

type Source interface {
	// Address returns the current public IPv4 address.
	Address(ctx context.Context) (netip.Addr, error)
	// Name identifies the source in logs and metrics.
	Name() string
}

// ParseAddress validates a dotted-quad IPv4 address as returned by a metadata
// service. Surrounding whitespace is ignored.
func ParseAddress(raw string) (netip.Addr, error) {
	s := strings.TrimSpace(raw)
	if strings.Count(s, ".") != 3 {
		return netip.Addr{}, fmt.Errorf("malformed address %q: expected dotted quad", s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("malformed address %q: %w", s, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("malformed address %q: not IPv4", s)
	}
	return addr, nil
}

// Static returns a source that always reports addr.
func Static(addr string) Source {
	return staticSource(addr)
}

type staticSource string

func (s staticSource) Address(context.Context) (netip.Addr, error) {
	return ParseAddress(string(s))
}

func (s staticSource) Name() string {
	return "static"
}
