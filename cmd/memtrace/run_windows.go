//go:build windows

package main

import (
	"os"
	"os/exec"

	"github.com/godlygeek/memtrace/tracker"
)

// launchTraced runs the target program directly: Windows has no fork, so
// the fork-safety coordinator (meaningful only around a Unix
// fork/pthread_atfork boundary) is not exercised on this platform.
func launchTraced(t *tracker.Tracker, path string, argv []string) (pid int, err error) {
	cmd := exec.Command(path, argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid = cmd.Process.Pid
	err = cmd.Wait()
	return pid, err
}
