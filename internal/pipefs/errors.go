package pipefs

import "errors"

// Abstract error kinds, not filesystem errno values — the VFS adapter
// maps them to syscall.Errno at its boundary.
var (
	ErrInvalidArgument  = errors.New("pipefs: invalid argument")
	ErrPermissionDenied = errors.New("pipefs: operation not permitted")
	ErrNoSuchEntry      = errors.New("pipefs: no such entry")
	ErrTryAgain         = errors.New("pipefs: try again")
	ErrBrokenPipe       = errors.New("pipefs: broken pipe")
	ErrConnectionReset  = errors.New("pipefs: connection reset")
)
