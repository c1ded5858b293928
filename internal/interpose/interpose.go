// Package interpose installs shims over a fixed allowlist of allocation
// entry points and tracks the loaded-module cache those shims validate
// their trampolines against. It never talks to the output stream
// directly: every shim reports through the Sink capability it is
// constructed with.
package interpose

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/tracelog"
)

// Sink is the capability a shim needs to report an allocation event,
// satisfied by tracker.Tracker in the real pipeline.
type Sink interface {
	TrackAllocation(tid uint64, kind codec.AllocatorKind, address, size uint64)
}

// EntryPoint describes one shimmable allocator symbol.
type EntryPoint struct {
	Kind     codec.AllocatorKind
	Symbol   string // e.g. "malloc", "posix_memalign"
	Real     uintptr
	Installed bool
}

// defaultAllowlist is the fixed set of libc entry points memtrace is
// willing to interpose. This list is not user-extensible, only
// prunable via MEMTRACE_ALLOCATOR_OVERRIDE (config.Config.AllocatorOverride).
var defaultAllowlist = []codec.AllocatorKind{
	codec.AllocMalloc,
	codec.AllocFree,
	codec.AllocCalloc,
	codec.AllocRealloc,
	codec.AllocPosixMemalign,
	codec.AllocMemalign,
	codec.AllocValloc,
	codec.AllocPvalloc,
	codec.AllocAlignedAlloc,
	codec.AllocMmap,
	codec.AllocMunmap,
}

// Interposer owns the installed-shim table, the recursion guard shared
// by every shim, and the module cache the trampoline verifier consults.
type Interposer struct {
	mu      sync.Mutex
	sink    Sink
	guard   RecursionGuard
	entries map[codec.AllocatorKind]*EntryPoint
	modules []Module
}

// Module mirrors one loaded shared object, used both to find the real
// symbol address to interpose and to detect the module cache going
// stale after dlopen/dlclose.
type Module struct {
	Path     string
	BaseAddr uintptr
}

// New builds an Interposer restricted to the entry points named in
// override (a comma-separated MEMTRACE_ALLOCATOR_OVERRIDE list of
// symbol names) or, when override is empty, the full defaultAllowlist.
func New(sink Sink, override string) *Interposer {
	ip := &Interposer{
		sink:    sink,
		entries: make(map[codec.AllocatorKind]*EntryPoint),
	}
	allowed := defaultAllowlist
	if override != "" {
		allowed = filterAllowlist(override)
	}
	for _, k := range allowed {
		ip.entries[k] = &EntryPoint{Kind: k, Symbol: symbolFor(k)}
	}
	return ip
}

func filterAllowlist(override string) []codec.AllocatorKind {
	want := make(map[string]bool)
	for _, name := range strings.Split(override, ",") {
		want[strings.TrimSpace(name)] = true
	}
	var out []codec.AllocatorKind
	for _, k := range defaultAllowlist {
		if want[symbolFor(k)] {
			out = append(out, k)
		}
	}
	return out
}

func symbolFor(k codec.AllocatorKind) string {
	switch k {
	case codec.AllocMalloc:
		return "malloc"
	case codec.AllocFree:
		return "free"
	case codec.AllocCalloc:
		return "calloc"
	case codec.AllocRealloc:
		return "realloc"
	case codec.AllocPosixMemalign:
		return "posix_memalign"
	case codec.AllocMemalign:
		return "memalign"
	case codec.AllocValloc:
		return "valloc"
	case codec.AllocPvalloc:
		return "pvalloc"
	case codec.AllocAlignedAlloc:
		return "aligned_alloc"
	case codec.AllocMmap:
		return "mmap"
	case codec.AllocMunmap:
		return "munmap"
	default:
		return k.String()
	}
}

// Entries returns the currently active entry-point table, for tests and
// for the reporting CLI's "which allocators were traced" summary.
// Entries returns every configured entry point in a stable order: the
// table is a map internally (lookup by AllocatorKind is the hot path),
// but callers that print or diff this list need deterministic output,
// the same way pkg/debugger/breakpoints.go keeps its BreakpointManager's
// listing sorted by id.
func (ip *Interposer) Entries() []EntryPoint {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	out := make([]EntryPoint, 0, len(ip.entries))
	for _, e := range ip.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b EntryPoint) bool { return a.Kind < b.Kind })
	return out
}

// InvalidateModuleCache discards the cached module list and marks every
// entry point as not installed, so each must go through Install again.
// It is called from the dlopen/dlclose shims on every call, since new
// symbols may now be resolvable or old ones gone. Nothing in this
// package repopulates the module list.
func (ip *Interposer) InvalidateModuleCache() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.modules = nil
	for _, e := range ip.entries {
		e.Installed = false
	}
	tracelog.Debugf("interpose: module cache invalidated, %d entry points need re-install", len(ip.entries))
}

// Install marks an entry point's real address and attempts to place a
// trampoline over it. On non-amd64 targets, or when the
// prologue can't be safely verified, Install still records real so the
// shim can forward to it, but leaves Installed false: the allocator
// keeps running untraced rather than risk a corrupted prologue.
func (ip *Interposer) Install(kind codec.AllocatorKind, real uintptr) error {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	e, ok := ip.entries[kind]
	if !ok {
		return fmt.Errorf("interpose: %s is not in the active allowlist", kind)
	}
	e.Real = real
	ok, err := verifyTrampoline(real)
	if err != nil {
		tracelog.Errorf("interpose: trampoline check for %s failed: %v", e.Symbol, err)
		return nil
	}
	e.Installed = ok
	return nil
}

// Guard exposes the interposer's shared RecursionGuard so shim
// implementations (such as those in shims.go) can bail out to
// the real allocator on re-entry.
func (ip *Interposer) Guard() *RecursionGuard { return &ip.guard }

// Track reports one interposed allocation event to the sink, but only if
// the caller (identified by tid) doesn't already hold the recursion
// guard — Install/Track never fire for a shim's own bookkeeping.
func (ip *Interposer) Track(tid uint64, kind codec.AllocatorKind, address, size uint64) {
	if !ip.guard.Enter(tid) {
		return
	}
	defer ip.guard.Exit(tid)
	ip.sink.TrackAllocation(tid, kind, address, size)
}

// currentExecutable returns the path of the running executable, or ""
// if it cannot be determined. Nothing in this package calls it.
func currentExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return exe
}
