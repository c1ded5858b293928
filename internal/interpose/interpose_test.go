package interpose

import (
	"testing"

	"github.com/godlygeek/memtrace/internal/codec"
)

type fakeSink struct {
	calls []codec.AllocatorKind
}

func (f *fakeSink) TrackAllocation(tid uint64, kind codec.AllocatorKind, address, size uint64) {
	f.calls = append(f.calls, kind)
}

func TestNewDefaultAllowlist(t *testing.T) {
	ip := New(&fakeSink{}, "")
	entries := ip.Entries()
	if len(entries) != len(defaultAllowlist) {
		t.Fatalf("len(entries) = %d, want %d", len(entries), len(defaultAllowlist))
	}
}

func TestNewRestrictedAllowlist(t *testing.T) {
	ip := New(&fakeSink{}, "malloc,free")
	entries := ip.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Symbol != "malloc" && e.Symbol != "free" {
			t.Fatalf("unexpected entry in restricted allowlist: %s", e.Symbol)
		}
	}
}

func TestRecursionGuardBlocksReentry(t *testing.T) {
	var g RecursionGuard
	const tid = uint64(42)
	if !g.Enter(tid) {
		t.Fatal("first Enter should succeed")
	}
	if g.Enter(tid) {
		t.Fatal("second Enter on the same thread should fail while held")
	}
	g.Exit(tid)
	if !g.Enter(tid) {
		t.Fatal("Enter should succeed again after Exit")
	}
}

func TestRecursionGuardIsPerThread(t *testing.T) {
	var g RecursionGuard
	if !g.Enter(1) {
		t.Fatal("thread 1 should acquire its own guard")
	}
	if !g.Enter(2) {
		t.Fatal("thread 2 must not be blocked by thread 1's guard")
	}
}

func TestTrackSkipsWhileGuardHeld(t *testing.T) {
	sink := &fakeSink{}
	ip := New(sink, "")
	ip.guard.Enter(7) // simulate re-entrant call from within a shim
	ip.Track(7, codec.AllocMalloc, 0x1000, 16)
	if len(sink.calls) != 0 {
		t.Fatalf("expected Track to be skipped while guard held, got %d calls", len(sink.calls))
	}
	ip.guard.Exit(7)
	ip.Track(7, codec.AllocMalloc, 0x1000, 16)
	if len(sink.calls) != 1 {
		t.Fatalf("expected Track to report once guard released, got %d calls", len(sink.calls))
	}
}

func TestInvalidateModuleCacheResetsInstalled(t *testing.T) {
	ip := New(&fakeSink{}, "malloc")
	for _, e := range ip.entries {
		e.Installed = true
	}
	ip.InvalidateModuleCache()
	for _, e := range ip.Entries() {
		if e.Installed {
			t.Fatalf("entry %s should be marked uninstalled after cache invalidation", e.Symbol)
		}
	}
}

func TestInstallRejectsUnknownKind(t *testing.T) {
	ip := New(&fakeSink{}, "malloc")
	if err := ip.Install(codec.AllocFree, 0x1); err == nil {
		t.Fatal("expected an error installing a kind outside the restricted allowlist")
	}
}
