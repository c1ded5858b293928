// Package forksafety coordinates Tracker and Sampler state across
// fork(2). Go programs normally avoid raw fork (the runtime doesn't
// support more than the
// fork+immediate-exec pattern os/exec uses), so this package targets
// cgo-embedded or os.StartProcess-adjacent callers that invoke
// golang.org/x/sys/unix.ForkExec's lower-level siblings, plus the
// syscall.ForkLock convention Go's own runtime honors.
package forksafety

import (
	"sync"

	"github.com/godlygeek/memtrace/internal/tracelog"
)

// Hooks is the set of callbacks forksafety drives around a fork. All
// three are optional; a nil hook is simply skipped.
type Hooks struct {
	Prepare func() (unlock func())
	Parent  func()
	Child   func(childPID int32)
}

// Coordinator serializes fork handling: only one fork may be "in
// flight" (between Prepare and Parent/Child) at a time, since
// Prepare holds the tracker and writer locks and a second fork
// racing in would deadlock against itself.
type Coordinator struct {
	mu    sync.Mutex
	hooks Hooks
}

// New builds a Coordinator around hooks.
func New(hooks Hooks) *Coordinator {
	return &Coordinator{hooks: hooks}
}

// AroundFork runs doFork (expected to call the real fork/clone syscall)
// with every registered Prepare hook held, then fires Parent or Child
// depending on which side of the fork doFork's return value indicates.
// pid is doFork's return value unmodified: 0 in the child, the child's
// pid in the parent, and a negative errno on failure.
//
// This mirrors the pthread_atfork contract: prepare handlers run in
// the parent right before fork, and exactly one of parent/child
// handlers runs right after, in both processes.
func (c *Coordinator) AroundFork(doFork func() (pid int32, err error)) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unlock func()
	if c.hooks.Prepare != nil {
		unlock = c.hooks.Prepare()
	}

	pid, err := doFork()

	if unlock != nil {
		unlock()
	}

	if err != nil {
		tracelog.Errorf("forksafety: fork failed: %v", err)
		return pid, err
	}

	if pid == 0 {
		if c.hooks.Child != nil {
			c.hooks.Child(currentPID())
		}
	} else {
		if c.hooks.Parent != nil {
			c.hooks.Parent()
		}
	}
	return pid, nil
}
