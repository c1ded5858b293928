// Command memtrace is the CLI front-end for the tracer: it can run a
// traced program (writing a binary capture file), or read a capture and
// print one of several reports. Dispatch is a flat switch over a verb,
// adapted to a one-shot argv[1] subcommand since each subcommand runs
// once over a file or a child process rather than holding an
// interactive debug session open.
package main

import (
	"fmt"
	"os"

	"github.com/godlygeek/memtrace/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	verb := os.Args[1]
	args := os.Args[2:]

	var err error
	switch verb {
	case "run":
		err = runCommand(args)
	case "summary":
		err = summaryCommand(args)
	case "stats":
		err = statsCommand(args)
	case "table":
		err = tableCommand(args)
	case "tree":
		err = treeCommand(args)
	case "flamegraph":
		err = flamegraphCommand(args)
	case "transform":
		err = transformCommand(args)
	case "version", "-version", "--version":
		fmt.Println(version.GetVersionInfo())
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "memtrace: unknown command %q\n\n", verb)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "memtrace: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: memtrace <command> [arguments]

commands:
  run <program> [args...]     trace a program, writing a capture file
  summary <capture>           print the high-watermark and temporary-allocation summary
  stats <capture>             print TrackerStats from the capture header
  table <capture>             print a per-call-site allocation table
  tree <capture>              print the live allocations as a call-stack tree
  flamegraph <capture> <out>  render a flamegraph-style HTML file
  transform <in> <out>        rewrite a capture, optionally (de)compressing it
  version                     print memtrace's version
`)
}
