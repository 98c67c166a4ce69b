package fsadapter

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"

	"github.com/netpipefs/netpipefs-go/internal/pipefs"
	"github.com/netpipefs/netpipefs-go/internal/wire"
)

// pipeFile is the per-open-handle nodefs.File: it forwards Read/Write
// straight to the underlying Pipe, ignoring offsets — there is no seek,
// every read/write is sequential from the pipe's point of view.
type pipeFile struct {
	nodefs.File
	pipe     *pipefs.Pipe
	mode     wire.Mode
	nonblock bool
}

func (f *pipeFile) Read(dest []byte, off int64) (fuse.ReadResult, fuse.Status) {
	n, err := f.pipe.Read(dest, f.nonblock)
	if err != nil {
		return nil, statusFor(err)
	}
	return fuse.ReadResultData(dest[:n]), fuse.OK
}

func (f *pipeFile) Write(data []byte, off int64) (uint32, fuse.Status) {
	n, err := f.pipe.Send(data, f.nonblock)
	if err != nil {
		return uint32(n), statusFor(err)
	}
	return uint32(n), fuse.OK
}

func (f *pipeFile) Flush() fuse.Status {
	if _, err := f.pipe.Flush(f.nonblock); err != nil {
		return statusFor(err)
	}
	return fuse.OK
}

func (f *pipeFile) Release() {
	f.pipe.Close(f.mode)
}

func (f *pipeFile) Fsync(flags int) fuse.Status {
	return f.Flush()
}
