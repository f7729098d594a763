//go:build windows

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

var errLockHeld = errors.New("lockfile: held by another process")

// tryLockExclusive takes a non-blocking exclusive byte-range lock on f via
// LockFileEx, returning errLockHeld if another process already holds it.
func tryLockExclusive(f *os.File) error {
	ol := new(windows.Overlapped)
	const allBytes = ^uint32(0)
	err := windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, allBytes, allBytes, ol)
	if err == nil {
		return nil
	}
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return errLockHeld
	}
	return err
}
