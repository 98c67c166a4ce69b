package handshake

import (
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Transport names the underlying duplex-stream provider for the peer
// channel: a plain TCP socket, or a KCP session (reliable stream over
// UDP) for lossy links.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportKCP Transport = "kcp"
)

func listen(transport Transport, port int) (net.Listener, error) {
	addr := fmt.Sprintf(":%d", port)
	switch transport {
	case TransportKCP:
		return kcp.Listen(addr)
	default:
		return net.Listen("tcp", addr)
	}
}

func dial(transport Transport, host string, port int) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	switch transport {
	case TransportKCP:
		return kcp.Dial(addr)
	default:
		return net.Dial("tcp", addr)
	}
}
