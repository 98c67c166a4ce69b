// Package wire implements the peer channel and its message codec: the
// single duplex byte stream between the two mount points, length-framed
// and multiplexed by path.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Opcode identifies a message kind on the wire. Values are distinct and
// nonzero so a stray zero byte (e.g. a half-closed socket) cannot be
// mistaken for a valid frame.
type Opcode byte

const (
	OpOpen        Opcode = 1 + iota // path, u8 mode
	OpClose                         // path, u8 mode
	OpWrite                         // path, u64 n, n bytes
	OpReadRequest                   // path, u64 n
	OpReadUpdate                    // path, u64 n
)

func (op Opcode) String() string {
	switch op {
	case OpOpen:
		return "OPEN"
	case OpClose:
		return "CLOSE"
	case OpWrite:
		return "WRITE"
	case OpReadRequest:
		return "READ-REQUEST"
	case OpReadUpdate:
		return "READ-UPDATE"
	default:
		return fmt.Sprintf("opcode(%d)", byte(op))
	}
}

// Mode mirrors the access mode of a pipe endpoint, carried in OPEN/CLOSE
// payloads.
type Mode byte

const (
	ModeRead  Mode = 0
	ModeWrite Mode = 1
)

func (m Mode) String() string {
	if m == ModeRead {
		return "read-only"
	}
	return "write-only"
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Wrap(err, "wire: read string payload")
	}
	return string(buf), nil
}
