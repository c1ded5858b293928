package main

import (
	"fmt"
	"html"
	"os"
	"sort"

	"github.com/godlygeek/memtrace/aggregate"
)

// flamegraphCommand renders the tree report as a minimal, dependency-free
// HTML flamegraph: nested <div>s whose width is proportional to bytes
// live at that frame. A real d3-flamegraph-style renderer with richer
// symbol resolution is out of scope here; this gives the subcommand a
// working implementation without pulling in a JS toolchain.
func flamegraphCommand(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("flamegraph: usage: memtrace flamegraph <capture> <out.html>")
	}
	r, f, err := openReader(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	root := newTreeNode(flameRootKey())
	for {
		ev, err := r.Next()
		if err != nil {
			if ev.Trailer {
				break
			}
			return fmt.Errorf("flamegraph: %w", err)
		}
		if ev.Allocation == nil || ev.Allocation.Kind.IsDeallocator() {
			continue
		}
		insertStack(root, ev.Allocation.Stack, ev.Allocation.Size)
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("flamegraph: creating output: %w", err)
	}
	defer out.Close()

	fmt.Fprint(out, flameHTMLHeader)
	writeFlameNode(out, root, root.bytes)
	fmt.Fprint(out, flameHTMLFooter)
	return nil
}

func flameRootKey() aggregate.LocationKey { return aggregate.LocationKey{Function: "<root>"} }

func writeFlameNode(out *os.File, n *treeNode, totalBytes uint64) {
	widthPct := 100.0
	if totalBytes > 0 {
		widthPct = float64(n.bytes) * 100.0 / float64(totalBytes)
	}
	fmt.Fprintf(out, `<div class="frame" style="width:%.4f%%" title="%s: %d bytes, %d allocations">%s</div>`+"\n",
		widthPct, html.EscapeString(n.key.Function), n.bytes, n.count, html.EscapeString(n.key.Function))
	fmt.Fprint(out, `<div class="children">`+"\n")
	children := make([]*treeNode, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].bytes > children[j].bytes })
	for _, c := range children {
		writeFlameNode(out, c, totalBytes)
	}
	fmt.Fprint(out, `</div>`+"\n")
}

const flameHTMLHeader = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>memtrace flamegraph</title>
<style>
body { font-family: monospace; }
.frame { background: #6a9fb5; border: 1px solid #fff; padding: 2px 4px; white-space: nowrap; overflow: hidden; }
.children { margin-left: 1em; }
</style></head><body>
`

const flameHTMLFooter = `</body></html>
`
