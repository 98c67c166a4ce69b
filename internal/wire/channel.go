package wire

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Channel is the single duplex byte stream between the two mount points.
// Sends are serialized by sendMu so every outbound message is atomic with
// respect to other senders; reads are unlocked because exactly one
// goroutine (the dispatcher) ever reads from a Channel.
type Channel struct {
	conn   net.Conn
	r      *bufio.Reader
	sendMu sync.Mutex

	// RemoteCap is the peer's advertised local pipe buffer capacity,
	// learned during the handshake. It seeds remote_max for every pipe
	// created after the handshake completes.
	RemoteCap uint64
}

// New wraps an established connection (already past the handshake
// preamble, and already wrapped in a compStream if compression was
// negotiated) into a Channel.
func New(conn net.Conn) *Channel {
	return NewWithReader(conn, bufio.NewReader(conn))
}

// NewWithReader is like New but reuses a bufio.Reader that the caller
// already primed during the handshake preamble, so no bytes read ahead
// of the opcode stream are lost.
func NewWithReader(conn net.Conn, r *bufio.Reader) *Channel {
	return &Channel{conn: conn, r: r}
}

// WrapCompressed wraps conn so every byte crossing it is snappy framed,
// applied once both peers have negotiated compression at handshake time.
func WrapCompressed(conn net.Conn) net.Conn {
	return newCompStream(conn)
}

// Conn returns the underlying reader used for direct, unframed reads
// (the pipe's readahead/direct-read paths read WRITE payloads straight
// off this reader instead of through an intermediate copy).
func (c *Channel) Conn() io.Reader { return c.r }

// Close closes the underlying connection, causing any blocked Read to
// return an error — the trigger for dispatcher teardown.
func (c *Channel) Close() error { return c.conn.Close() }

// ReadOpcode blocks for the next message's opcode byte.
func (c *Channel) ReadOpcode() (Opcode, error) {
	b, err := c.r.ReadByte()
	if err != nil {
		return 0, err
	}
	return Opcode(b), nil
}

// ReadPathMode reads an OPEN/CLOSE payload: path + mode.
func (c *Channel) ReadPathMode() (path string, mode Mode, err error) {
	path, err = readString(c.r)
	if err != nil {
		return "", 0, err
	}
	b, err := c.r.ReadByte()
	if err != nil {
		return "", 0, err
	}
	return path, Mode(b), nil
}

// ReadPathSize reads a WRITE/READ-REQUEST/READ-UPDATE header: path + u64
// size. For WRITE, the size bytes of payload are NOT consumed here — the
// caller reads them directly off Conn() so the pipe's recv path can
// stream straight into its buffer or into pending requests without an
// extra copy.
func (c *Channel) ReadPathSize() (path string, size uint64, err error) {
	path, err = readString(c.r)
	if err != nil {
		return "", 0, err
	}
	size, err = readUint64(c.r)
	if err != nil {
		return "", 0, err
	}
	return path, size, nil
}

func (c *Channel) send(fn func(w io.Writer) error) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return fn(c.conn)
}

// SendOpen transmits OPEN(path, mode).
func (c *Channel) SendOpen(path string, mode Mode) error {
	return c.send(func(w io.Writer) error {
		if _, err := w.Write([]byte{byte(OpOpen)}); err != nil {
			return err
		}
		if err := writeString(w, path); err != nil {
			return err
		}
		_, err := w.Write([]byte{byte(mode)})
		return err
	})
}

// SendClose transmits CLOSE(path, mode).
func (c *Channel) SendClose(path string, mode Mode) error {
	return c.send(func(w io.Writer) error {
		if _, err := w.Write([]byte{byte(OpClose)}); err != nil {
			return err
		}
		if err := writeString(w, path); err != nil {
			return err
		}
		_, err := w.Write([]byte{byte(mode)})
		return err
	})
}

// SendWrite transmits WRITE(path, n, data). n == len(data); n is kept
// explicit (rather than inferred by the reader) because the wire format
// requires it up front so the receiver can size its direct read.
func (c *Channel) SendWrite(path string, data []byte) (int, error) {
	err := c.send(func(w io.Writer) error {
		if _, err := w.Write([]byte{byte(OpWrite)}); err != nil {
			return err
		}
		if err := writeString(w, path); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(len(data))); err != nil {
			return err
		}
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "wire: send WRITE")
	}
	return len(data), nil
}

// SendReadRequest transmits READ-REQUEST(path, n): a credit grant, the
// peer may send up to n additional bytes for path.
func (c *Channel) SendReadRequest(path string, n uint64) error {
	return c.send(func(w io.Writer) error {
		if _, err := w.Write([]byte{byte(OpReadRequest)}); err != nil {
			return err
		}
		if err := writeString(w, path); err != nil {
			return err
		}
		return writeUint64(w, n)
	})
}

// SendReadUpdate transmits READ-UPDATE(path, n): n bytes previously sent
// have now been consumed by the local reader.
func (c *Channel) SendReadUpdate(path string, n uint64) error {
	return c.send(func(w io.Writer) error {
		if _, err := w.Write([]byte{byte(OpReadUpdate)}); err != nil {
			return err
		}
		if err := writeString(w, path); err != nil {
			return err
		}
		return writeUint64(w, n)
	})
}
