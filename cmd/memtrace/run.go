package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godlygeek/memtrace/internal/codec"
	"github.com/godlygeek/memtrace/internal/config"
	"github.com/godlygeek/memtrace/internal/interpose"
	"github.com/godlygeek/memtrace/internal/sampler"
	"github.com/godlygeek/memtrace/internal/sink"
	"github.com/godlygeek/memtrace/internal/tracelog"
	"github.com/godlygeek/memtrace/internal/writer"
	"github.com/godlygeek/memtrace/tracker"
)

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	out := fs.String("o", "memtrace.bin", "capture output file")
	live := fs.String("live", "", "stream the capture to host:port instead of writing a file")
	compress := fs.Bool("compress", false, "zstd-compress the capture (ignored with -live)")
	nativeTraces := fs.Bool("native", false, "resolve native/cgo call stacks")
	interval := fs.Int("interval", 10, "background RSS sample interval in milliseconds")
	verbose := fs.Bool("v", false, "verbose diagnostic logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tracelog.SetVerbose(*verbose)

	target := fs.Args()
	if len(target) == 0 {
		return fmt.Errorf("run: a program to launch is required")
	}

	cfg := config.Apply(
		config.WithNativeTraces(*nativeTraces),
		config.WithMemoryInterval(*interval),
		config.WithCompress(*compress),
	)
	config.ApplyEnvOverrides(&cfg)

	var s sink.Sink
	var err error
	if *live != "" {
		s, err = sink.NewSocketSink(*live)
		if err != nil {
			return fmt.Errorf("run: dialing -live %s: %w", *live, err)
		}
	} else {
		s, err = sink.NewFileSink(*out, cfg.Compress)
		if err != nil {
			return fmt.Errorf("run: opening capture file: %w", err)
		}
	}

	startMS := uint64(time.Now().UnixMilli())
	w, err := writer.New(s, cfg.NativeTraces, strings.Join(target, " "), int32(os.Getpid()), codec.AllocatorMalloc, startMS)
	if err != nil {
		s.Close()
		return fmt.Errorf("run: initializing writer: %w", err)
	}

	t, err := tracker.Create(w)
	if err != nil {
		s.Close()
		return fmt.Errorf("run: %w", err)
	}

	ip := interpose.New(t, cfg.AllocatorOverride())
	tracelog.Debugf("interposer installed for %d allocator entry points", len(ip.Entries()))

	samp := sampler.New(w, sampler.NewProcStatmSource(os.Getpagesize()), time.Duration(cfg.MemoryIntervalMS)*time.Millisecond)
	samp.Start()

	pid, waitErr := launchTraced(t, target[0], target)

	samp.Stop()
	endMS := uint64(time.Now().UnixMilli())
	if err := t.Destroy(endMS); err != nil {
		tracelog.Errorf("destroying tracker: %v", err)
	}
	if err := s.Close(); err != nil {
		tracelog.Errorf("closing capture file: %v", err)
	}

	tracelog.Debugf("traced child pid %d exited", pid)
	return waitErr
}
