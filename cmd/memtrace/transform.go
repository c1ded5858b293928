package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/sink"
	"github.com/godlygeek/memtrace/internal/writer"
	"github.com/godlygeek/memtrace/reader"
)

// transformCommand replays a capture through reader's decode path and
// re-serializes every event through a fresh Writer, driven end to end
// instead of staying in-memory. The main practical use is
// (de)compression: read a plain capture and write a zstd one, or vice
// versa.
func transformCommand(args []string) error {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	compress := fs.Bool("compress", false, "zstd-compress the output capture")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("transform: usage: memtrace transform [-compress] <in> <out>")
	}

	in, err := os.Open(rest[0])
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	defer in.Close()

	r, err := reader.New(in)
	if err != nil {
		return fmt.Errorf("transform: decoding input header: %w", err)
	}
	hdr := r.Header()

	outSink, err := sink.NewFileSink(rest[1], *compress)
	if err != nil {
		return fmt.Errorf("transform: opening output: %w", err)
	}

	w, err := writer.New(outSink, hdr.NativeTraces, hdr.CommandLine, hdr.PID, hdr.PythonAllocator, hdr.Stats.StartTimeMS)
	if err != nil {
		outSink.Close()
		return fmt.Errorf("transform: %w", err)
	}

	frameIDs := make(map[codec.RawFrame]int64)
	var nextFrameID int64
	for {
		ev, err := r.Next()
		if err != nil {
			if ev.Trailer || err == io.EOF {
				break
			}
			w.Finish(hdr.Stats.EndTimeMS)
			outSink.Close()
			return fmt.Errorf("transform: reading event: %w", err)
		}
		switch {
		case ev.Allocation != nil:
			a := ev.Allocation
			tid := a.ThreadID
			w.EnsureContextSwitch(tid)
			for i := len(a.Stack) - 1; i >= 0; i-- {
				f := a.Stack[i]
				id, seen := frameIDs[f]
				if !seen {
					id = nextFrameID
					nextFrameID++
					frameIDs[f] = id
					w.WriteFrameIndex(tid, id, f)
				}
				w.WriteFramePush(tid, id)
			}
			w.WriteAllocation(tid, a.Kind, a.Address, a.Size)
			if len(a.Stack) > 0 {
				w.WriteFramePop(tid, len(a.Stack))
			}
		case ev.Memory != nil:
			w.WriteMemoryRecord(ev.Memory.RSS, ev.Memory.MSSinceStart)
		case ev.ThreadName != nil:
			w.WriteThreadRecord(ev.ThreadName.ThreadID, ev.ThreadName.Name)
		case ev.Segment != nil:
			segs := make([]writer.ImageSegment, 0, len(ev.Segment.Segments))
			for _, s := range ev.Segment.Segments {
				segs = append(segs, writer.ImageSegment{Vaddr: s.Vaddr, Memsz: s.Memsz})
			}
			w.WriteModuleCache([]writer.Image{{Filename: ev.Segment.Filename, BaseAddr: ev.Segment.BaseAddr, Segments: segs}})
		}
	}

	if err := w.Finish(hdr.Stats.EndTimeMS); err != nil {
		outSink.Close()
		return fmt.Errorf("transform: finishing output: %w", err)
	}
	return outSink.Close()
}
