package pipefs

import (
	"sync"

	"github.com/netpipefs/netpipefs-go/internal/wire"
)

// Table is the open-files table keyed by pipe path: a plain map guarded
// by its own mutex, never held while a pipe mutex is held except
// during the atomic get-or-create and remove transitions.
type Table struct {
	mu       sync.Mutex
	pipes    map[string]*Pipe
	ch       *wire.Channel
	capacity int
	debug    bool
}

// NewTable builds an empty table. capacity is the local buffer size
// (local_cap) given to every pipe created through it; ch is the single
// peer channel pipes use to send WRITE/READ-REQUEST/READ-UPDATE/CLOSE
// messages.
func NewTable(ch *wire.Channel, capacity int, debug bool) *Table {
	return &Table{
		pipes:    make(map[string]*Pipe),
		ch:       ch,
		capacity: capacity,
		debug:    debug,
	}
}

// getOrCreate returns the pipe for path, creating and registering it if
// absent. The bool result reports whether this call created it, which
// callers need to decide whether a failed open should remove the entry
// again.
func (t *Table) getOrCreate(path string) (*Pipe, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pipes[path]; ok {
		return p, false
	}
	p := newPipe(path, t.capacity, t.ch, t.debug, t)
	t.pipes[path] = p
	return p, true
}

// Get looks up an existing pipe without creating one. Dispatcher
// messages that arrive for a path with no local entry (e.g. after a
// race with teardown) are legitimately misses — callers treat !ok by
// draining and discarding rather than treating it as a protocol error.
func (t *Table) Get(path string) (*Pipe, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pipes[path]
	return p, ok
}

func (t *Table) removeLocked(path string) {
	t.mu.Lock()
	delete(t.pipes, path)
	t.mu.Unlock()
}

// ForceExitAll wakes every blocked local caller across every pipe, used
// once by the dispatcher on connection teardown.
func (t *Table) ForceExitAll() {
	t.mu.Lock()
	pipes := make([]*Pipe, 0, len(t.pipes))
	for _, p := range t.pipes {
		pipes = append(pipes, p)
	}
	t.mu.Unlock()
	for _, p := range pipes {
		p.ForceExit()
	}
}

// Open performs a local open: blocks until a peer endpoint exists in
// the complementary mode, unless nonblock is set.
func (t *Table) Open(path string, mode wire.Mode, nonblock bool) (*Pipe, error) {
	p, justCreated := t.getOrCreate(path)
	p.mu.Lock()

	if p.forceExit {
		p.mu.Unlock()
		return nil, ErrNoSuchEntry
	}
	if p.openMode != unopen && p.openMode != modeToOpenMode(mode) {
		p.mu.Unlock()
		return nil, ErrPermissionDenied
	}

	if mode == wire.ModeRead {
		p.readers++
	} else {
		p.writers++
	}
	p.openMode = modeToOpenMode(mode)
	p.canOpen.Broadcast()

	if err := p.ch.SendOpen(path, mode); err != nil {
		p.rollbackOpen(mode, justCreated)
		p.mu.Unlock()
		return nil, ErrBrokenPipe
	}

	if nonblock && (p.readers == 0 || p.writers == 0) {
		p.rollbackOpen(mode, justCreated)
		p.mu.Unlock()
		return nil, ErrTryAgain
	}

	for !p.forceExit && (p.readers == 0 || p.writers == 0) {
		p.canOpen.Wait()
	}

	if p.forceExit {
		p.rollbackOpen(mode, justCreated)
		p.mu.Unlock()
		return nil, ErrNoSuchEntry
	}

	p.logState("open")
	p.mu.Unlock()
	return p, nil
}

// OpenUpdate applies a peer-originated OPEN: it only ever grows a
// counter and wakes anyone waiting in Open, never blocks, and never
// fails.
func (t *Table) OpenUpdate(path string, mode wire.Mode) (*Pipe, error) {
	p, _ := t.getOrCreate(path)
	p.mu.Lock()
	if mode == wire.ModeRead {
		p.readers++
	} else {
		p.writers++
	}
	p.canOpen.Broadcast()
	p.logState("open_update")
	p.mu.Unlock()
	return p, nil
}
