package tracker

import (
	"fmt"
	"sync"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/tracelog"
)

// WatchpointKind distinguishes the two ways a watchpoint can match an
// allocation, mirroring debugger.BreakpointType's Location/Function
// split but over address ranges and size classes instead of source
// locations.
type WatchpointKind int

const (
	// WatchAddressKind fires when an allocation's address falls inside
	// [Address, Address+Length).
	WatchAddressKind WatchpointKind = iota
	// WatchSizeClassKind fires when an allocation's size falls inside
	// [MinSize, MaxSize].
	WatchSizeClassKind
)

// Watchpoint is one registered trigger, with an enable/disable/remove
// lifecycle for managing a set of them at runtime.
type Watchpoint struct {
	ID      int
	Kind    WatchpointKind
	Address uint64
	Length  uint64
	MinSize uint64
	MaxSize uint64
	Enabled bool
}

// WatchpointHit describes one allocation that matched a watchpoint.
type WatchpointHit struct {
	Watchpoint Watchpoint
	Kind       codec.AllocatorKind
	Address    uint64
	Size       uint64
}

type watchpointSet struct {
	mu     sync.Mutex
	items  []*Watchpoint
	nextID int
	onHit  func(WatchpointHit)
}

func newWatchpointSet() *watchpointSet {
	return &watchpointSet{nextID: 1}
}

// WatchAddress registers a watchpoint over [addr, addr+length).
func (t *Tracker) WatchAddress(addr, length uint64) *Watchpoint {
	return t.watchpoints.add(Watchpoint{Kind: WatchAddressKind, Address: addr, Length: length, Enabled: true})
}

// WatchSizeClass registers a watchpoint over allocations whose size
// falls in [minSize, maxSize].
func (t *Tracker) WatchSizeClass(minSize, maxSize uint64) *Watchpoint {
	return t.watchpoints.add(Watchpoint{Kind: WatchSizeClassKind, MinSize: minSize, MaxSize: maxSize, Enabled: true})
}

// OnWatchpointHit installs a callback invoked synchronously, on the
// allocating thread, for every matching allocation. Callers that need
// to block the traced thread (e.g. to attach a real debugger) are
// responsible for their own cross-thread handoff; memtrace itself never
// blocks here beyond calling the callback.
func (t *Tracker) OnWatchpointHit(fn func(WatchpointHit)) {
	t.watchpoints.mu.Lock()
	defer t.watchpoints.mu.Unlock()
	t.watchpoints.onHit = fn
}

// RemoveWatchpoint removes a previously registered watchpoint by id.
func (t *Tracker) RemoveWatchpoint(id int) error {
	return t.watchpoints.remove(id)
}

func (ws *watchpointSet) add(w Watchpoint) *Watchpoint {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w.ID = ws.nextID
	ws.nextID++
	stored := &w
	ws.items = append(ws.items, stored)
	return stored
}

func (ws *watchpointSet) remove(id int) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for i, w := range ws.items {
		if w.ID == id {
			ws.items = append(ws.items[:i], ws.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("tracker: watchpoint %d not found", id)
}

func (ws *watchpointSet) check(kind codec.AllocatorKind, address, size uint64) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if len(ws.items) == 0 || ws.onHit == nil {
		return
	}
	for _, w := range ws.items {
		if !w.Enabled {
			continue
		}
		var hit bool
		switch w.Kind {
		case WatchAddressKind:
			hit = address >= w.Address && address < w.Address+w.Length
		case WatchSizeClassKind:
			hit = size >= w.MinSize && size <= w.MaxSize
		}
		if hit {
			tracelog.Debugf("tracker: watchpoint %d hit by %s at 0x%x (%d bytes)", w.ID, kind, address, size)
			ws.onHit(WatchpointHit{Watchpoint: *w, Kind: kind, Address: address, Size: size})
		}
	}
}
