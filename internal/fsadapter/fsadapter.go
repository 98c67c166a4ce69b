// Package fsadapter is the thin VFS binding: it translates FUSE
// callbacks into internal/pipefs operations and pipefs error kinds
// back into fuse.Status. The filesystem it exposes is flat by design —
// no directories, no permissions, no persistence.
package fsadapter

import (
	"path/filepath"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/netpipefs/netpipefs-go/internal/pipefs"
	"github.com/netpipefs/netpipefs-go/internal/wire"
)

// FileSystem implements pathfs.FileSystem on top of a pipefs.Table:
// every regular file name is a pipe path, opened in the requested
// mode, with no further path structure.
type FileSystem struct {
	pathfs.FileSystem
	table *pipefs.Table
}

func New(table *pipefs.Table) *FileSystem {
	return &FileSystem{
		FileSystem: pathfs.NewDefaultFileSystem(),
		table:      table,
	}
}

func modeFromFlags(flags uint32) (wire.Mode, error) {
	switch flags & 0x3 {
	case uintRDWR:
		return 0, pipefs.ErrInvalidArgument
	case uintWRONLY:
		return wire.ModeWrite, nil
	default:
		return wire.ModeRead, nil
	}
}

// uintWRONLY and uintRDWR mirror syscall.O_WRONLY/O_RDWR's low bits
// without importing syscall for a couple of constant comparisons on
// every platform. A pipe endpoint is strictly one-directional, so
// O_RDWR is rejected rather than silently treated as read-only.
const (
	uintWRONLY = 1
	uintRDWR   = 2
)

// GetAttr reports the root as a directory and every other path as a
// flat, zero-length regular file — there is no persisted size or
// directory structure to reflect.
func (fs *FileSystem) GetAttr(name string, context *fuse.Context) (*fuse.Attr, fuse.Status) {
	now := uint64(time.Now().Unix())
	if name == "" {
		return &fuse.Attr{Mode: fuse.S_IFDIR | 0755, Mtime: now}, fuse.OK
	}
	return &fuse.Attr{Mode: fuse.S_IFREG | 0644, Mtime: now}, fuse.OK
}

// OpenDir only supports the root. It lists nothing, since pipe paths
// only exist once opened and carry no persisted directory entries.
func (fs *FileSystem) OpenDir(name string, context *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	if name != "" {
		return nil, fuse.ENOENT
	}
	return nil, fuse.OK
}

// Truncate is a no-op: pipes have no persisted size to resize.
func (fs *FileSystem) Truncate(name string, size uint64, context *fuse.Context) fuse.Status {
	return fuse.OK
}

// Open maps a FUSE open onto a blocking pipefs.Table.Open in the mode
// implied by flags, translating O_NONBLOCK into the nonblocking form.
func (fs *FileSystem) Open(name string, flags uint32, context *fuse.Context) (nodefs.File, fuse.Status) {
	mode, err := modeFromFlags(flags)
	if err != nil {
		return nil, statusFor(err)
	}
	nonblock := flags&uint32(nonblockFlag) != 0
	p, err := fs.table.Open(path(name), mode, nonblock)
	if err != nil {
		return nil, statusFor(err)
	}
	return &pipeFile{File: nodefs.NewDefaultFile(), pipe: p, mode: mode, nonblock: nonblock}, fuse.OK
}

// nonblockFlag mirrors syscall.O_NONBLOCK's Linux value; FUSE delivers
// flags straight from the calling process's open(2).
const nonblockFlag = 04000

// statusEAGAIN is Linux's EAGAIN errno, returned to a non-blocking
// caller that would otherwise block.
const statusEAGAIN fuse.Status = 11

func path(name string) string {
	return "/" + filepath.Clean(name)
}

func statusFor(err error) fuse.Status {
	switch err {
	case pipefs.ErrNoSuchEntry:
		return fuse.ENOENT
	case pipefs.ErrPermissionDenied:
		return fuse.EPERM
	case pipefs.ErrTryAgain:
		return statusEAGAIN
	case pipefs.ErrBrokenPipe, pipefs.ErrConnectionReset:
		return fuse.EIO
	case pipefs.ErrInvalidArgument:
		return fuse.EINVAL
	default:
		return fuse.EIO
	}
}
