package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/mattn/go-isatty"

	"github.com/godlygeek/memtrace/aggregate"
	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/reader"
)

// openReader opens path and decodes its header, the first step every
// report subcommand shares.
func openReader(path string) (*reader.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening capture: %w", err)
	}
	r, err := reader.New(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("decoding capture: %w", err)
	}
	return r, f, nil
}

// colorize wraps s in an ANSI color code when stdout is a terminal.
func colorize(code, s string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func summaryCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("summary: usage: memtrace summary <capture>")
	}
	r, f, err := openReader(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	hw := aggregate.NewHighWatermarkFinder()
	temp, err := aggregate.NewTemporaryAllocationsAggregator(4096)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	if err := aggregate.Feed(r, hw, temp); err != nil {
		return fmt.Errorf("summary: %w", err)
	}

	peak, atEvent := hw.Peak()
	fmt.Printf("%s %d bytes (reached at allocation event #%d)\n", colorize("1;32", "peak live bytes:"), peak, atEvent)
	fmt.Printf("%s %d bytes\n", colorize("1;32", "live bytes at end:"), hw.Current())

	totalTemp := 0
	for _, n := range temp.Counts() {
		totalTemp += n
	}
	fmt.Printf("%s %d\n", colorize("1;33", "temporary allocations:"), totalTemp)
	return nil
}

func statsCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("stats: usage: memtrace stats <capture>")
	}
	r, f, err := openReader(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := r.Header()
	fmt.Printf("format version:   %d\n", hdr.Version)
	fmt.Printf("command line:     %s\n", hdr.CommandLine)
	fmt.Printf("pid:              %d\n", hdr.PID)
	fmt.Printf("native traces:    %t\n", hdr.NativeTraces)
	fmt.Printf("allocations seen: %d\n", hdr.Stats.NAllocations)
	fmt.Printf("frames interned:  %d\n", hdr.Stats.NFrames)
	fmt.Printf("start time (ms):  %d\n", hdr.Stats.StartTimeMS)
	fmt.Printf("end time (ms):    %d\n", hdr.Stats.EndTimeMS)
	return nil
}

func tableCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("table: usage: memtrace table <capture>")
	}
	r, f, err := openReader(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	snap := aggregate.NewSnapshotAllocationAggregator()
	if err := aggregate.Feed(r, snap); err != nil {
		return fmt.Errorf("table: %w", err)
	}

	rows := snap.ByLocation()
	keys := make([]aggregate.LocationKey, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return rows[keys[i]].Bytes > rows[keys[j]].Bytes })

	fmt.Printf("%-40s %-30s %8s %8s\n", colorize("1;36", "FUNCTION"), "FILE:LINE", "BYTES", "COUNT")
	for _, k := range keys {
		st := rows[k]
		loc := fmt.Sprintf("%s:%d", k.File, k.Line)
		fmt.Printf("%-40s %-30s %8d %8d\n", k.Function, loc, st.Bytes, st.Count)
	}
	return nil
}

// treeNode accumulates live bytes per call-stack path for the tree
// report; children are keyed by the next-innermost frame's LocationKey.
type treeNode struct {
	key      aggregate.LocationKey
	bytes    uint64
	count    int
	children map[aggregate.LocationKey]*treeNode
}

func newTreeNode(k aggregate.LocationKey) *treeNode {
	return &treeNode{key: k, children: make(map[aggregate.LocationKey]*treeNode)}
}

func treeCommand(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("tree: usage: memtrace tree <capture>")
	}
	r, f, err := openReader(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	root := newTreeNode(aggregate.LocationKey{Function: "<root>"})
	for {
		ev, err := r.Next()
		if err != nil {
			if ev.Trailer {
				break
			}
			return fmt.Errorf("tree: %w", err)
		}
		if ev.Allocation == nil || ev.Allocation.Kind.IsDeallocator() {
			continue
		}
		insertStack(root, ev.Allocation.Stack, ev.Allocation.Size)
	}

	printTree(root, 0)
	return nil
}

func insertStack(root *treeNode, stack []codec.RawFrame, size uint64) {
	cur := root
	cur.bytes += size
	cur.count++
	for i := len(stack) - 1; i >= 0; i-- {
		k := aggregate.LocationKey{Function: stack[i].FunctionName, File: stack[i].FileName, Line: stack[i].Lineno}
		child, ok := cur.children[k]
		if !ok {
			child = newTreeNode(k)
			cur.children[k] = child
		}
		child.bytes += size
		child.count++
		cur = child
	}
}

func printTree(n *treeNode, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	if depth > 0 {
		fmt.Printf("%s%s (%d bytes, %d allocations)\n", indent, n.key.Function, n.bytes, n.count)
	}
	children := make([]*treeNode, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].bytes > children[j].bytes })
	for _, c := range children {
		printTree(c, depth+1)
	}
}
