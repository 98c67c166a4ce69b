package pipefs

import (
	"fmt"
	"io"
	"sync"

	"github.com/netpipefs/netpipefs-go/internal/wire"
)

// Dispatcher is the single goroutine that owns reading the peer
// channel: it decodes one opcode-framed message at a time and applies
// it to the relevant pipe's *Update method. Nothing else ever reads
// from the channel, so no locking is needed around the read side.
type Dispatcher struct {
	ch    *wire.Channel
	table *Table

	teardownOnce sync.Once
	stopOnce     sync.Once
}

func NewDispatcher(ch *wire.Channel, table *Table) *Dispatcher {
	return &Dispatcher{ch: ch, table: table}
}

// Run blocks decoding messages until the channel errors out — either
// because the peer vanished or because Stop closed it locally — and
// then tears down every pipe exactly once before returning.
func (d *Dispatcher) Run() error {
	err := d.loop()
	d.teardown()
	return err
}

func (d *Dispatcher) loop() error {
	for {
		op, err := d.ch.ReadOpcode()
		if err != nil {
			return err
		}

		switch op {
		case wire.OpOpen:
			path, mode, err := d.ch.ReadPathMode()
			if err != nil {
				return err
			}
			if _, err := d.table.OpenUpdate(path, mode); err != nil {
				return err
			}

		case wire.OpClose:
			path, mode, err := d.ch.ReadPathMode()
			if err != nil {
				return err
			}
			if p, ok := d.table.Get(path); ok {
				p.CloseUpdate(mode)
			}

		case wire.OpWrite:
			path, size, err := d.ch.ReadPathSize()
			if err != nil {
				return err
			}
			p, ok := d.table.Get(path)
			if !ok {
				if _, err := io.CopyN(io.Discard, d.ch.Conn(), int64(size)); err != nil {
					return err
				}
				continue
			}
			if err := p.Recv(int(size)); err != nil {
				return err
			}

		case wire.OpReadRequest:
			path, n, err := d.ch.ReadPathSize()
			if err != nil {
				return err
			}
			if p, ok := d.table.Get(path); ok {
				if err := p.ReadRequest(n); err != nil {
					return err
				}
			}

		case wire.OpReadUpdate:
			path, n, err := d.ch.ReadPathSize()
			if err != nil {
				return err
			}
			if p, ok := d.table.Get(path); ok {
				if err := p.ReadUpdate(n); err != nil {
					return err
				}
			}

		default:
			return fmt.Errorf("pipefs: unknown opcode %v", op)
		}
	}
}

func (d *Dispatcher) teardown() {
	d.teardownOnce.Do(func() {
		d.table.ForceExitAll()
	})
}

// Stop closes the peer channel, which unblocks the dispatcher's
// current ReadOpcode with an error and drives it through the same
// teardown path as an unexpected disconnect. Idempotent.
func (d *Dispatcher) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		err = d.ch.Close()
	})
	return err
}
