package wire

import (
	"io"
	"net"
	"testing"
)

func TestSendOpenReadPathMode(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	a := New(connA)
	b := New(connB)

	done := make(chan error, 1)
	go func() { done <- a.SendOpen("/greeting", ModeWrite) }()

	op, err := b.ReadOpcode()
	if err != nil {
		t.Fatalf("ReadOpcode: %v", err)
	}
	if op != OpOpen {
		t.Fatalf("expected OpOpen, got %v", op)
	}
	path, mode, err := b.ReadPathMode()
	if err != nil {
		t.Fatalf("ReadPathMode: %v", err)
	}
	if path != "/greeting" || mode != ModeWrite {
		t.Fatalf("got (%q, %v), want (/greeting, write-only)", path, mode)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendOpen: %v", err)
	}
}

func TestSendWriteThenDirectPayloadRead(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	a := New(connA)
	b := New(connB)

	payload := []byte("hello, peer")
	done := make(chan error, 1)
	go func() {
		_, err := a.SendWrite("/x", payload)
		done <- err
	}()

	op, err := b.ReadOpcode()
	if err != nil {
		t.Fatalf("ReadOpcode: %v", err)
	}
	if op != OpWrite {
		t.Fatalf("expected OpWrite, got %v", op)
	}
	path, size, err := b.ReadPathSize()
	if err != nil {
		t.Fatalf("ReadPathSize: %v", err)
	}
	if path != "/x" || size != uint64(len(payload)) {
		t.Fatalf("got (%q, %d), want (/x, %d)", path, size, len(payload))
	}
	got := make([]byte, size)
	if _, err := io.ReadFull(b.Conn(), got); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got payload %q, want %q", got, payload)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendWrite: %v", err)
	}
}

func TestSendReadRequestAndReadUpdate(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	a := New(connA)
	b := New(connB)

	done := make(chan error, 1)
	go func() { done <- a.SendReadRequest("/x", 128) }()

	op, err := b.ReadOpcode()
	if err != nil {
		t.Fatalf("ReadOpcode: %v", err)
	}
	if op != OpReadRequest {
		t.Fatalf("expected OpReadRequest, got %v", op)
	}
	path, n, err := b.ReadPathSize()
	if err != nil {
		t.Fatalf("ReadPathSize: %v", err)
	}
	if path != "/x" || n != 128 {
		t.Fatalf("got (%q, %d), want (/x, 128)", path, n)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendReadRequest: %v", err)
	}

	go func() { done <- a.SendReadUpdate("/x", 64) }()
	op, err = b.ReadOpcode()
	if err != nil {
		t.Fatalf("ReadOpcode: %v", err)
	}
	if op != OpReadUpdate {
		t.Fatalf("expected OpReadUpdate, got %v", op)
	}
	path, n, err = b.ReadPathSize()
	if err != nil {
		t.Fatalf("ReadPathSize: %v", err)
	}
	if path != "/x" || n != 64 {
		t.Fatalf("got (%q, %d), want (/x, 64)", path, n)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendReadUpdate: %v", err)
	}
}

func TestReadOpcodeFailsAfterClose(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()

	a := New(connA)
	_ = New(connB)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := a.ReadOpcode(); err == nil {
		t.Fatal("expected ReadOpcode to fail on a closed channel")
	}
}
