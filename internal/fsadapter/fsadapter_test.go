package fsadapter

import (
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/netpipefs/netpipefs-go/internal/pipefs"
	"github.com/netpipefs/netpipefs-go/internal/wire"
)

func TestModeFromFlags(t *testing.T) {
	if got, err := modeFromFlags(0); err != nil || got != wire.ModeRead {
		t.Errorf("O_RDONLY: got (%v, %v), want (read-only, nil)", got, err)
	}
	if got, err := modeFromFlags(uintWRONLY); err != nil || got != wire.ModeWrite {
		t.Errorf("O_WRONLY: got (%v, %v), want (write-only, nil)", got, err)
	}
	if _, err := modeFromFlags(uintRDWR); err != pipefs.ErrInvalidArgument {
		t.Errorf("O_RDWR: got err %v, want ErrInvalidArgument", err)
	}
}

func TestPathNormalizesName(t *testing.T) {
	cases := map[string]string{
		"greeting":      "/greeting",
		"a/../greeting": "/greeting",
		"":              "/.",
	}
	for name, want := range cases {
		if got := path(name); got != want {
			t.Errorf("path(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestStatusForMapsEveryPipefsError(t *testing.T) {
	cases := []struct {
		err  error
		want fuse.Status
	}{
		{pipefs.ErrNoSuchEntry, fuse.ENOENT},
		{pipefs.ErrPermissionDenied, fuse.EPERM},
		{pipefs.ErrTryAgain, statusEAGAIN},
		{pipefs.ErrBrokenPipe, fuse.EIO},
		{pipefs.ErrConnectionReset, fuse.EIO},
		{pipefs.ErrInvalidArgument, fuse.EINVAL},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestOpenDirOnlySupportsRoot(t *testing.T) {
	fs := New(pipefs.NewTable(nil, 4096, false))
	if _, status := fs.OpenDir("nested", nil); status != fuse.ENOENT {
		t.Errorf("OpenDir(nested) status = %v, want ENOENT", status)
	}
	if _, status := fs.OpenDir("", nil); status != fuse.OK {
		t.Errorf("OpenDir(root) status = %v, want OK", status)
	}
}
