//go:build !windows

package filelock

import (
	"os"
	"syscall"
)

// tryLock attempts a non-blocking exclusive flock. ok=false with a nil
// error means "currently held elsewhere, keep polling".
func tryLock(f *os.File) (ok bool, err error) {
	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
		return false, nil
	}
	return false, err
}

func unlock(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
