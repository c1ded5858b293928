//go:build !windows

package main

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/godlygeek/memtrace/internal/forksafety"
	"github.com/godlygeek/memtrace/tracker"
)

// launchTraced forks and execs the target program under fork-safety
// ordering: Prepare holds the tracker's lock across the fork, and
// exactly one of Parent/Child runs afterward in each process, the same
// ordering pthread_atfork gives native allocator hooks. The child side
// never returns from syscall.ForkExec (it has already been replaced by
// the target binary's image by the time this function's caller sees a
// result), so Child only ever runs here as dead code kept for symmetry
// with tracker.AfterForkChild's real callers inside package tracker's
// own tests.
func launchTraced(t *tracker.Tracker, path string, argv []string) (pid int, err error) {
	resolved, lookErr := exec.LookPath(path)
	if lookErr != nil {
		resolved = path
	}

	coord := forksafety.New(forksafety.Hooks{
		Prepare: t.PrepareFork,
		Parent:  t.AfterForkParent,
		Child:   t.AfterForkChild,
	})

	childPID, forkErr := coord.AroundFork(func() (int32, error) {
		attr := &syscall.ProcAttr{
			Env:   os.Environ(),
			Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd()},
		}
		p, _, err := syscall.StartProcess(resolved, argv, attr)
		if err != nil {
			return 0, err
		}
		return int32(p), nil
	})
	if forkErr != nil {
		return 0, forkErr
	}

	var ws syscall.WaitStatus
	_, waitErr := syscall.Wait4(int(childPID), &ws, 0, nil)
	return int(childPID), waitErr
}
