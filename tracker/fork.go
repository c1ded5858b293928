package tracker

import (
	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/shadow"
	"github.com/godlygeek/memtrace/internal/tracelog"
)

// PrepareFork is called immediately before fork(2). It acquires every
// lock a forked child could otherwise inherit half-held: a child that
// inherits the writer mutex mid-write deadlocks forever, since the
// thread that held it no longer exists in the child. The returned
// unlock func must be deferred by the caller
// (internal/forksafety) in both parent and child right after fork
// returns.
func (t *Tracker) PrepareFork() (unlock func()) {
	t.mu.Lock()
	w := t.w
	var wUnlock func()
	if w != nil {
		lk := w.AcquireLock()
		lk.Lock()
		wUnlock = lk.Unlock
	}
	return func() {
		if wUnlock != nil {
			wUnlock()
		}
		t.mu.Unlock()
	}
}

// AfterForkParent is a no-op hook kept symmetrical with AfterForkChild;
// the parent's tracker state is untouched by a fork.
func (t *Tracker) AfterForkParent() {}

// AfterForkChild resets t in place for life as a new process: the
// inherited frame/native intern tables and shadow stacks are cleared
// and the generation is bumped, so tracking resumes from a clean slate
// in the child, not a replay of the parent's history. The writer and
// its sink are kept as they are: no sink is cloned or closed, and no
// new Tracker is created.
func (t *Tracker) AfterForkChild(childPID int32) {
	t.mu.Lock()
	t.frameIDs = make(map[codec.RawFrame]int64)
	t.nextFrame = 0
	t.nativeNodes = make(map[nativeKey]int64)
	t.nextNative = 0
	t.shadows = make(map[uint64]*shadow.Shadow)
	t.generation++
	t.mu.Unlock()
	tracelog.Debugf("tracker: reinitialized after fork in child pid=%d, generation=%d", childPID, t.generation)
}
