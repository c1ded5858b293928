//go:build linux

package forksafety

import "golang.org/x/sys/unix"

// currentPID returns the calling process's pid via a direct syscall
// rather than os.Getpid's cached value, since immediately after fork in
// the child the Go runtime's cached pid may not have been refreshed yet
// (Go itself does not support raw fork outside os/exec's fork+exec,
// which never observes this window; this exists for cgo-embedded
// callers that do).
func currentPID() int32 {
	return int32(unix.Getpid())
}
