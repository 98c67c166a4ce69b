// Package pipefs implements the distributed named-pipe engine: the
// per-path Pipe state machine, the open-files table that indexes them,
// and the dispatcher that drives both from the peer channel.
package pipefs

import (
	"container/list"
	"io"
	"log"
	"sync"

	"github.com/netpipefs/netpipefs-go/internal/ringbuf"
	"github.com/netpipefs/netpipefs-go/internal/wire"
)

// openMode tracks which single local mode this endpoint currently
// holds open under, mirroring the original's open_mode field. A pipe
// cannot be locally open for both reading and writing at once.
type openMode int

const (
	unopen openMode = iota
	openRead
	openWrite
)

func modeToOpenMode(m wire.Mode) openMode {
	if m == wire.ModeRead {
		return openRead
	}
	return openWrite
}

// request is one pending blocked write or read, queued when it cannot
// be satisfied immediately. For Send and Read, buf is a subslice of the
// caller's own buffer — the caller blocks for the duration of the
// request so no copy is needed; Flush queues a copy of the local
// buffer's contents instead.
type request struct {
	buf       []byte
	processed int
	err       error
}

// Pipe is the state for one path: local buffer, remote credit, the
// endpoint counts, and the queues of requests blocked on either side.
// Every field is guarded by mu; three condition variables distinguish
// what a waiter is blocked on: canOpen for a blocked Open, wr for a
// blocked Send/Flush, rd for a blocked Read.
type Pipe struct {
	path  string
	table *Table
	ch    *wire.Channel
	debug bool

	mu      sync.Mutex
	canOpen *sync.Cond
	wr      *sync.Cond
	rd      *sync.Cond

	buffer     *ringbuf.Buffer
	remoteMax  uint64
	remoteSize uint64

	readers int
	writers int
	openMode openMode

	wrReqs *list.List
	rdReqs *list.List

	pollHandles map[PollHandle]struct{}

	forceExit     bool
	forceExitOnce sync.Once
}

func newPipe(path string, capacity int, ch *wire.Channel, debug bool, table *Table) *Pipe {
	p := &Pipe{
		path:        path,
		table:       table,
		ch:          ch,
		debug:       debug,
		buffer:      ringbuf.New(capacity),
		remoteMax:   ch.RemoteCap,
		wrReqs:      list.New(),
		rdReqs:      list.New(),
		pollHandles: make(map[PollHandle]struct{}),
	}
	p.canOpen = sync.NewCond(&p.mu)
	p.wr = sync.NewCond(&p.mu)
	p.rd = sync.NewCond(&p.mu)
	return p
}

func (p *Pipe) logState(event string) {
	if !p.debug {
		return
	}
	log.Printf("pipefs: %s path=%s readers=%d writers=%d buffer=%d/%d remote=%d/%d",
		event, p.path, p.readers, p.writers, p.buffer.Size(), p.buffer.Capacity(), p.remoteSize, p.remoteMax)
}

// rollbackOpen undoes the counter bump Table.Open made before it knew
// the open would fail, called while p.mu is already held. If this call
// was the one that created the pipe and both counts have now returned
// to zero, the entry is removed from the table too.
func (p *Pipe) rollbackOpen(mode wire.Mode, justCreated bool) {
	if mode == wire.ModeRead {
		p.readers--
		if p.readers == 0 {
			p.openMode = unopen
		}
	} else {
		p.writers--
		if p.writers == 0 {
			p.openMode = unopen
		}
	}
	if justCreated && p.readers == 0 && p.writers == 0 {
		p.table.removeLocked(p.path)
	}
}

func (p *Pipe) availableRemote() int {
	return int(p.remoteMax) - int(p.remoteSize)
}

// doSend transmits as much of buf as remote credit allows, updating
// remote_size by what was actually accepted.
func (p *Pipe) doSend(buf []byte) (int, error) {
	avail := p.availableRemote()
	n := len(buf)
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0, nil
	}
	sent, err := p.ch.SendWrite(p.path, buf[:n])
	if err != nil {
		return 0, err
	}
	p.remoteSize += uint64(sent)
	return sent, nil
}

// doFlush drains as much of the local buffer onto the wire as remote
// credit allows.
func (p *Pipe) doFlush() (int, error) {
	avail := p.availableRemote()
	local := p.buffer.Size()
	n := local
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0, nil
	}
	tmp := make([]byte, n)
	got := p.buffer.Get(tmp)
	sent, err := p.ch.SendWrite(p.path, tmp[:got])
	if err != nil {
		return 0, err
	}
	p.remoteSize += uint64(sent)
	return sent, nil
}

// doBufferedRead copies out of the local buffer into dst and reports
// the bytes consumed back to the peer with a READ-UPDATE, which retires
// them from the peer's remote_size and remote_max alike.
func (p *Pipe) doBufferedRead(dst []byte) (int, error) {
	n := p.buffer.Get(dst)
	if n == 0 {
		return 0, nil
	}
	if err := p.ch.SendReadUpdate(p.path, uint64(n)); err != nil {
		return n, err
	}
	return n, nil
}

func (p *Pipe) notifyPollLocked() {
	for h := range p.pollHandles {
		h.Notify()
	}
	p.pollHandles = make(map[PollHandle]struct{})
}

// Send implements a local write: try an immediate flush, try a direct
// send, spill the rest into the local buffer, and if anything is still
// left over queue a request and block for it (unless nonblock is set).
func (p *Pipe) Send(buf []byte, nonblock bool) (int, error) {
	p.mu.Lock()

	if p.forceExit || p.readers == 0 {
		p.mu.Unlock()
		return 0, ErrBrokenPipe
	}

	if n, err := p.doFlush(); err != nil {
		p.mu.Unlock()
		return 0, ErrBrokenPipe
	} else if n > 0 {
		p.wr.Broadcast()
	}

	sent := 0
	if p.availableRemote() > 0 && p.buffer.Empty() {
		n, err := p.doSend(buf)
		if err != nil {
			p.mu.Unlock()
			return 0, ErrBrokenPipe
		}
		sent += n
	}
	if sent == len(buf) {
		p.mu.Unlock()
		return sent, nil
	}

	sent += p.buffer.Put(buf[sent:])
	if sent == len(buf) || nonblock {
		p.mu.Unlock()
		if sent == 0 {
			return 0, ErrTryAgain
		}
		return sent, nil
	}

	req := &request{buf: buf[sent:]}
	p.wrReqs.PushBack(req)
	for !p.forceExit && req.processed != len(req.buf) && req.err == nil {
		p.wr.Wait()
	}

	if req.processed == 0 && (p.forceExit || req.err != nil) {
		err := req.err
		if err == nil {
			err = ErrBrokenPipe
		}
		p.mu.Unlock()
		return 0, err
	}
	total := sent + req.processed
	p.mu.Unlock()
	return total, nil
}

// Flush implements an explicit flush: push the local buffer onto the
// wire as far as remote credit allows, then block for
// the remainder unless the buffer is already empty or nonblock is set.
// On a pipe that still has a reader and is not being torn down, an
// already-empty buffer is a no-op success, matching flush's
// idempotence; otherwise Flush fails with ErrBrokenPipe.
func (p *Pipe) Flush(nonblock bool) (int, error) {
	p.mu.Lock()

	if p.forceExit || p.readers == 0 {
		p.mu.Unlock()
		return 0, ErrBrokenPipe
	}

	sent, err := p.doFlush()
	if err != nil {
		p.mu.Unlock()
		return 0, ErrBrokenPipe
	}
	if sent > 0 {
		p.wr.Broadcast()
	}

	remaining := p.buffer.Size()
	if remaining == 0 || nonblock {
		p.mu.Unlock()
		return sent, nil
	}

	tmp := make([]byte, remaining)
	p.buffer.Get(tmp)
	req := &request{buf: tmp}
	p.wrReqs.PushBack(req)
	for !p.forceExit && req.processed != len(req.buf) && req.err == nil {
		p.wr.Wait()
	}

	total := sent + req.processed
	if req.processed == 0 && total == 0 && (p.forceExit || req.err != nil) {
		err := req.err
		if err == nil {
			err = ErrBrokenPipe
		}
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()
	return total, nil
}

// Read implements a local read: take whatever is already buffered
// locally, and if that wasn't enough to fill buf, either
// report EOF (no writers left) or request more from the peer and block
// for it (unless nonblock is set).
func (p *Pipe) Read(buf []byte, nonblock bool) (int, error) {
	p.mu.Lock()

	if p.forceExit {
		p.mu.Unlock()
		return 0, ErrBrokenPipe
	}

	read, err := p.doBufferedRead(buf)
	if err != nil {
		p.mu.Unlock()
		return 0, ErrBrokenPipe
	}

	if read == len(buf) {
		p.mu.Unlock()
		return read, nil
	}
	if nonblock {
		p.mu.Unlock()
		if read == 0 && len(buf) > 0 {
			return 0, ErrTryAgain
		}
		return read, nil
	}
	if p.writers == 0 {
		p.mu.Unlock()
		return read, nil
	}

	remaining := buf[read:]
	req := &request{buf: remaining}
	elem := p.rdReqs.PushBack(req)
	if err := p.ch.SendReadRequest(p.path, uint64(len(remaining))); err != nil {
		p.rdReqs.Remove(elem)
		p.mu.Unlock()
		return read, ErrBrokenPipe
	}

	for !p.forceExit && req.processed != len(remaining) && req.err == nil {
		p.rd.Wait()
	}

	if req.processed == 0 {
		if req.err == ErrBrokenPipe {
			// The peer stopped writing while we waited: a normal EOF,
			// not a failure.
			p.mu.Unlock()
			return read, nil
		}
		if req.err != nil {
			p.mu.Unlock()
			return read, req.err
		}
		if p.forceExit {
			p.mu.Unlock()
			return read, ErrBrokenPipe
		}
	}

	total := read + req.processed
	p.mu.Unlock()
	return total, nil
}

// Recv applies an incoming WRITE of size bytes: first hand bytes to
// requests already blocked in Read, then — once the local
// buffer has run dry — read straight off the wire into whatever
// requests remain, and finally park any leftover bytes in the local
// buffer as readahead.
func (p *Pipe) Recv(size int) error {
	p.mu.Lock()

	remaining := size
	wakeup := false

	elem := p.rdReqs.Front()
	for elem != nil && !p.buffer.Empty() {
		req := elem.Value.(*request)
		dst := req.buf[req.processed:]
		n, err := p.doBufferedRead(dst)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		req.processed += n
		if req.processed == len(req.buf) {
			wakeup = true
			next := elem.Next()
			p.rdReqs.Remove(elem)
			elem = next
		}
	}

	for elem != nil && p.buffer.Empty() && remaining > 0 {
		req := elem.Value.(*request)
		toRead := len(req.buf) - req.processed
		if toRead > remaining {
			toRead = remaining
		}
		dst := req.buf[req.processed : req.processed+toRead]
		if _, err := io.ReadFull(p.ch.Conn(), dst); err != nil {
			p.mu.Unlock()
			return err
		}
		if err := p.ch.SendReadUpdate(p.path, uint64(toRead)); err != nil {
			p.mu.Unlock()
			return err
		}
		req.processed += toRead
		remaining -= toRead
		if req.processed == len(req.buf) {
			wakeup = true
			next := elem.Next()
			p.rdReqs.Remove(elem)
			elem = next
		}
	}

	if remaining > 0 {
		n, err := p.buffer.ReadFrom(p.ch.Conn(), remaining)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		if n == 0 {
			p.mu.Unlock()
			return ErrConnectionReset
		}
		if n != remaining {
			log.Printf("pipefs: recv path=%s dropped %d bytes, local buffer full", p.path, remaining-n)
			if _, err := io.CopyN(io.Discard, p.ch.Conn(), int64(remaining-n)); err != nil {
				p.mu.Unlock()
				return err
			}
		}
	}

	if wakeup {
		p.rd.Broadcast()
	}
	p.notifyPollLocked()
	p.logState("recv")
	p.mu.Unlock()
	return nil
}

// ReadRequest applies a peer credit grant: remote_max grows by n,
// which may let queued writes move.
func (p *Pipe) ReadRequest(n uint64) error {
	p.mu.Lock()
	p.remoteMax += n
	moved, err := p.pushQueuedWrites()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if moved > 0 {
		p.wr.Broadcast()
	}
	p.mu.Unlock()
	return nil
}

// ReadUpdate applies a peer consumption acknowledgment: both remote_max
// and remote_size shrink by n, since the peer retired
// n bytes it previously held and is no longer extending credit for
// them.
func (p *Pipe) ReadUpdate(n uint64) error {
	p.mu.Lock()
	p.remoteMax -= n
	p.remoteSize -= n
	moved, err := p.pushQueuedWrites()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if moved > 0 {
		p.wr.Broadcast()
	}
	p.mu.Unlock()
	return nil
}

// pushQueuedWrites is called with p.mu held after the peer
// grants or retires remote credit: first it flushes the local
// buffer, then it drains queued write requests onto the wire, then it
// spills whatever is left of those requests back into the local
// buffer. On a send failure it marks the front request's error,
// broadcasts wr, and stops — the caller treats a non-nil error as
// connection loss.
func (p *Pipe) pushQueuedWrites() (int, error) {
	moved := 0

	if n, err := p.doFlush(); err != nil {
		if front := p.wrReqs.Front(); front != nil {
			front.Value.(*request).err = ErrConnectionReset
		}
		p.wr.Broadcast()
		return moved, err
	} else {
		moved += n
	}

	elem := p.wrReqs.Front()
	for elem != nil && p.availableRemote() > 0 {
		req := elem.Value.(*request)
		sent, err := p.doSend(req.buf[req.processed:])
		if err != nil {
			req.err = ErrConnectionReset
			p.wr.Broadcast()
			return moved, err
		}
		moved += sent
		req.processed += sent
		if req.processed == len(req.buf) {
			next := elem.Next()
			p.wrReqs.Remove(elem)
			elem = next
		} else {
			break
		}
	}

	for elem != nil && !p.buffer.Full() {
		req := elem.Value.(*request)
		n := p.buffer.Put(req.buf[req.processed:])
		moved += n
		req.processed += n
		if req.processed == len(req.buf) {
			next := elem.Next()
			p.wrReqs.Remove(elem)
			elem = next
		} else {
			break
		}
	}

	if moved > 0 {
		p.notifyPollLocked()
	}
	return moved, nil
}

// Close implements a local close: decrement the relevant counter
// (flushing first if the last local writer is closing), tell
// the peer, and remove the pipe from the table once both counts hit
// zero. A failed CLOSE message send does not stop teardown — the
// table entry is freed regardless, and the send failure is reported to
// the caller afterward.
func (p *Pipe) Close(mode wire.Mode) error {
	p.mu.Lock()

	if mode == wire.ModeWrite {
		p.writers--
		if p.writers == 0 {
			p.mu.Unlock()
			p.Flush(false)
			p.mu.Lock()
		}
	} else {
		p.readers--
	}
	if p.readers == 0 && p.writers == 0 {
		p.openMode = unopen
	}

	sendErr := p.ch.SendClose(p.path, mode)

	if p.readers == 0 && p.writers == 0 {
		p.table.removeLocked(p.path)
	}
	p.logState("close")
	p.mu.Unlock()

	if sendErr != nil {
		return ErrBrokenPipe
	}
	return nil
}

// CloseUpdate applies a peer-originated CLOSE: if the peer was the
// last writer, every local read blocked on this pipe is
// terminated with EOF; symmetrically for the peer being the last
// reader and local blocked writes.
func (p *Pipe) CloseUpdate(mode wire.Mode) error {
	p.mu.Lock()

	if mode == wire.ModeWrite {
		p.writers--
		if p.writers == 0 {
			for e := p.rdReqs.Front(); e != nil; e = e.Next() {
				e.Value.(*request).err = ErrBrokenPipe
			}
			p.rdReqs.Init()
			p.rd.Broadcast()
		}
	} else {
		p.readers--
		if p.readers == 0 {
			for e := p.wrReqs.Front(); e != nil; e = e.Next() {
				e.Value.(*request).err = ErrBrokenPipe
			}
			p.wrReqs.Init()
			p.wr.Broadcast()
		}
	}
	if p.readers == 0 && p.writers == 0 {
		p.openMode = unopen
	}

	p.notifyPollLocked()
	p.logState("close_update")

	if p.readers == 0 && p.writers == 0 {
		p.table.removeLocked(p.path)
	}
	p.mu.Unlock()
	return nil
}

// ForceExit wakes every local caller currently blocked on this pipe
// with a terminal error, used once per pipe when the peer channel is
// torn down. Idempotent: a second call is a no-op.
func (p *Pipe) ForceExit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forceExitOnce.Do(func() {
		p.forceExit = true
		p.canOpen.Broadcast()
		p.wr.Broadcast()
		p.rd.Broadcast()
	})
}

// Poll reports current readiness and registers h to be notified once,
// the next time readiness changes.
func (p *Pipe) Poll(h PollHandle) (PollEvents, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pollHandles[h] = struct{}{}

	var ev PollEvents
	switch p.openMode {
	case openRead:
		if !p.buffer.Empty() {
			ev |= PollIn
		}
		if p.writers == 0 {
			ev |= PollHup
		}
	case openWrite:
		if p.readers == 0 {
			ev |= PollErr
		} else if p.availableRemote()+p.buffer.Free() > 0 {
			ev |= PollOut
		}
	}
	return ev, nil
}
