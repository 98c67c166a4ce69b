// Package handshake establishes the single peer channel at startup,
// breaking the race when both peers listen+connect concurrently.
package handshake

import (
	"bufio"
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/netpipefs/netpipefs-go/internal/wire"
)

// Config carries everything the handshake needs: how to reach the peer,
// how to be reached, and what this side advertises.
type Config struct {
	Transport    Transport
	LocalHost    string // this side's address as the peer should record it
	ListenPort   int
	PeerHost     string
	PeerPort     int
	PipeCapacity int // local_cap: bytes this side is willing to buffer per pipe
	Timeout      time.Duration
	Compress     bool
}

const dialRetryInterval = 200 * time.Millisecond

// Run performs the handshake and returns the established Channel.
func Run(cfg Config) (*wire.Channel, error) {
	ln, err := listen(cfg.Transport, cfg.ListenPort)
	if err != nil {
		return nil, errors.Wrap(err, "handshake: listen")
	}

	deadline := time.Now().Add(cfg.Timeout)

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	dialConn, err := dialWithRetry(cfg, deadline)
	if err != nil {
		ln.Close()
		return nil, errors.Wrap(err, "handshake: dial peer")
	}

	var acceptConn net.Conn
	select {
	case res := <-acceptCh:
		if res.err != nil {
			dialConn.Close()
			ln.Close()
			return nil, errors.Wrap(res.err, "handshake: accept peer")
		}
		acceptConn = res.conn
	case <-time.After(time.Until(deadline)):
		dialConn.Close()
		ln.Close()
		return nil, errors.New("handshake: timed out waiting to accept peer")
	}

	// Exchange host strings: write our own on the socket we dialed,
	// read the peer's off the socket we accepted. This is symmetric:
	// both sides do the same thing, so each of the two sockets carries
	// exactly one host string, from its dialing side to its accepting side.
	if err := writeNulString(dialConn, cfg.LocalHost); err != nil {
		dialConn.Close()
		acceptConn.Close()
		ln.Close()
		return nil, errors.Wrap(err, "handshake: write local host")
	}

	acceptedReader := bufio.NewReader(acceptConn)
	peerHost, err := readNulString(acceptedReader)
	if err != nil {
		dialConn.Close()
		acceptConn.Close()
		ln.Close()
		return nil, errors.Wrap(err, "handshake: read peer host")
	}

	cmp := compareEndpoints(cfg.LocalHost, cfg.ListenPort, peerHost, cfg.PeerPort)
	var winner net.Conn
	var winnerReader *bufio.Reader
	switch {
	case cmp > 0:
		// we are the larger tuple: keep the accepted socket
		dialConn.Close()
		ln.Close()
		winner = acceptConn
		winnerReader = acceptedReader
	case cmp < 0:
		// we are the smaller tuple: keep the socket we dialed
		acceptConn.Close()
		ln.Close()
		winner = dialConn
		winnerReader = bufio.NewReader(dialConn)
	default:
		dialConn.Close()
		acceptConn.Close()
		ln.Close()
		return nil, errors.New("handshake: symmetric endpoints, cannot break tie")
	}

	// Exchange advertised buffer capacity and compression intent over
	// the single winning socket, in the same fixed order on both sides
	// (write then read) — safe because each side only sends 9 bytes and
	// neither end can fill its send buffer waiting for the other.
	if err := writeCapability(winner, uint64(cfg.PipeCapacity), cfg.Compress); err != nil {
		winner.Close()
		return nil, errors.Wrap(err, "handshake: write capability")
	}
	remoteCap, peerCompress, err := readCapability(winnerReader)
	if err != nil {
		winner.Close()
		return nil, errors.Wrap(err, "handshake: read capability")
	}

	conn := net.Conn(winner)
	if cfg.Compress && peerCompress {
		conn = wire.WrapCompressed(conn)
		winnerReader = bufio.NewReader(conn)
	}

	ch := wire.NewWithReader(conn, winnerReader)
	ch.RemoteCap = remoteCap
	return ch, nil
}

func dialWithRetry(cfg Config, deadline time.Time) (net.Conn, error) {
	for {
		conn, err := dial(cfg.Transport, cfg.PeerHost, cfg.PeerPort)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.Wrap(err, "last dial attempt")
		}
		time.Sleep(dialRetryInterval)
	}
}

func writeNulString(w net.Conn, s string) error {
	_, err := w.Write(append([]byte(s), 0))
	return err
}

func readNulString(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", err
	}
	return s[:len(s)-1], nil
}

func writeCapability(w net.Conn, cap uint64, compress bool) error {
	var b [9]byte
	binary.LittleEndian.PutUint64(b[:8], cap)
	if compress {
		b[8] = 1
	}
	_, err := w.Write(b[:])
	return err
}

func readCapability(r *bufio.Reader) (cap uint64, compress bool, err error) {
	var b [9]byte
	if _, err = readFull(r, b[:]); err != nil {
		return 0, false, err
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8] != 0, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// compareEndpoints compares (hostA, portA) against (hostB, portB),
// octet-wise when both hosts are IPv4 literals and as plain strings
// otherwise; equal hosts are ordered by port.
func compareEndpoints(hostA string, portA int, hostB string, portB int) int {
	a := net.ParseIP(hostA).To4()
	b := net.ParseIP(hostB).To4()
	if a != nil && b != nil {
		for i := 0; i < 4; i++ {
			if a[i] != b[i] {
				return int(a[i]) - int(b[i])
			}
		}
		return portA - portB
	}

	if hostA != hostB {
		if hostA < hostB {
			return -1
		}
		return 1
	}
	return portA - portB
}
