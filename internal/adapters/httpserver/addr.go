package httpserver

import (
	"net"

	manet "github.com/multiformats/go-multiaddr/net"
)

// Multiaddr renders a bound address as a multiaddr (/ip4/127.0.0.1/tcp/3000)
// for diagnostics. Addresses it cannot express render as "".
func Multiaddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	m, err := manet.FromNetAddr(addr)
	if err != nil {
		return ""
	}
	return m.String()
}
