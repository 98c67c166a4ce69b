package fsadapter

import (
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"

	"github.com/netpipefs/netpipefs-go/internal/pipefs"
)

// Mount wires a pipefs.Table into a live FUSE mount at mountpoint and
// returns the running server. Callers drive it with Serve and tear it
// down with Unmount.
func Mount(table *pipefs.Table, mountpoint string, debug bool) (*fuse.Server, error) {
	fs := New(table)
	nfs := pathfs.NewPathNodeFs(fs, nil)
	conn := nodefs.NewFileSystemConnector(nfs.Root(), nil)
	conn.SetDebug(debug)

	server, err := fuse.NewServer(conn.RawFS(), mountpoint, &fuse.MountOptions{
		Debug:      debug,
		Name:       "netpipefs",
		FsName:     "netpipefs",
		AllowOther: false,
	})
	if err != nil {
		return nil, err
	}
	return server, nil
}
