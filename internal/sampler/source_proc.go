package sampler

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcStatmSource reads RSS from /proc/self/statm, the portable fallback
// available on every Linux kernel regardless of eBPF/BTF support.
type ProcStatmSource struct {
	pageSize uint64
}

// NewProcStatmSource builds a Source backed by /proc/self/statm.
// pageSize is the runtime page size (os.Getpagesize()); statm reports
// RSS in pages, not bytes.
func NewProcStatmSource(pageSize int) *ProcStatmSource {
	return &ProcStatmSource{pageSize: uint64(pageSize)}
}

// ReadRSS parses the second field of /proc/self/statm (resident set
// size, in pages) and converts it to bytes.
func (p *ProcStatmSource) ReadRSS() (uint64, error) {
	f, err := os.Open("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("sampler: opening /proc/self/statm: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("sampler: /proc/self/statm was empty")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 2 {
		return 0, fmt.Errorf("sampler: /proc/self/statm had %d fields, want >= 2", len(fields))
	}
	rssPages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sampler: parsing rss field: %w", err)
	}
	return rssPages * p.pageSize, nil
}

// Close is a no-op; ProcStatmSource holds no persistent resources
// between samples.
func (p *ProcStatmSource) Close() error { return nil }
