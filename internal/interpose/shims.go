package interpose

import "github.com/godlygeek/memtrace/internal/tracelog"

// DlopenShim wraps a dlopen call: after the real dlopen returns, the set
// of resolvable symbols may have changed, so the module cache is
// invalidated unconditionally. handle is the real dlopen's return
// value, passed through unchanged.
func (ip *Interposer) DlopenShim(tid uint64, real func() uintptr) uintptr {
	if !ip.guard.Enter(tid) {
		return real()
	}
	defer ip.guard.Exit(tid)
	handle := real()
	ip.InvalidateModuleCache()
	return handle
}

// DlcloseShim mirrors DlopenShim for unloading.
func (ip *Interposer) DlcloseShim(tid uint64, real func() int) int {
	if !ip.guard.Enter(tid) {
		return real()
	}
	defer ip.guard.Exit(tid)
	rc := real()
	ip.InvalidateModuleCache()
	return rc
}

// PthreadCreateShim wraps pthread_create so the tracker can be told a
// new OS thread exists before that thread's first allocation arrives,
// letting the writer's CONTEXT_SWITCH-before-first-record ordering
// invariant hold even for threads that never call into Go directly.
// onCreate receives the new thread's id once the real call succeeds.
func (ip *Interposer) PthreadCreateShim(tid uint64, real func() (newTID uint64, err error), onCreate func(newTID uint64)) (uint64, error) {
	if !ip.guard.Enter(tid) {
		return real()
	}
	defer ip.guard.Exit(tid)
	newTID, err := real()
	if err != nil {
		tracelog.Debugf("interpose: pthread_create failed: %v", err)
		return 0, err
	}
	onCreate(newTID)
	return newTID, nil
}
