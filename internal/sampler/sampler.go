// Package sampler runs the background memory-usage sampler: a
// goroutine that periodically samples process RSS and emits a
// MEMORY_RECORD, independent of any allocation event.
package sampler

import (
	"sync"
	"time"

	"github.com/godlygeek/memtrace/internal/tracelog"
)

// RecordWriter is the capability the sampler needs, satisfied by
// *writer.Writer.
type RecordWriter interface {
	WriteMemoryRecord(rss, msSinceStart uint64) bool
}

// Source reads the current RSS in bytes. Backends implement this:
// ProcStatmSource (source_proc.go) is the portable fallback, EBPFSource
// (source_ebpf_linux.go, linux/amd64 only) is the tracepoint-based
// alternative grounded on oomprof's tracepoint plumbing.
type Source interface {
	ReadRSS() (uint64, error)
	Close() error
}

// Sampler owns the ticker goroutine. Start/Stop are idempotent and safe
// to call from any goroutine.
type Sampler struct {
	w        RecordWriter
	source   Source
	interval time.Duration
	start    time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New builds a Sampler that samples every interval via source.
func New(w RecordWriter, source Source, interval time.Duration) *Sampler {
	return &Sampler{w: w, source: source, interval: interval}
}

// Start launches the sampling goroutine. It no-ops if already running.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.start = time.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(s.stopCh, s.doneCh)
}

// Stop signals the sampling goroutine to exit and blocks until it has,
// so that callers can rely on no further MEMORY_RECORDs being written
// once Stop returns (important across fork: the child must not still
// have the parent's sampler goroutine racing against Tracker.AfterForkChild).
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// loop samples once per tick until Stop is called. A failed RSS read
// (logged) or a write the writer rejects ends the loop early.
func (s *Sampler) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rss, err := s.source.ReadRSS()
			if err != nil {
				tracelog.Errorf("sampler: reading RSS: %v", err)
				return
			}
			elapsed := uint64(time.Since(s.start).Milliseconds())
			if !s.w.WriteMemoryRecord(rss, elapsed) {
				return
			}
		}
	}
}
