// Package nativeunwind symbolicates native (cgo) instruction pointers
// into function/file/line triples for ALLOCATION_WITH_NATIVE records.
// It resolves addresses by attaching to the running process's own
// binary through Delve's RPC client, calling only its read-only
// location lookups.
package nativeunwind

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
)

// Symbol is a resolved native frame.
type Symbol struct {
	Function string
	File     string
	Line     int
}

// locator is the subset of *rpc2.RPCClient's surface Resolve needs,
// narrowed so tests can substitute a fake without spawning a real dlv
// server.
type locator interface {
	FindLocation(scope api.EvalScope, loc string, findInstructions bool, substitutePathRules [][2]string) ([]api.Location, error)
}

// Resolver symbolicates instruction pointers for one target binary. It
// is expensive to construct (it spawns a headless dlv server) and cheap
// to query repeatedly, since results are cached per address.
type Resolver struct {
	client locator
	cmd    *exec.Cmd
	cache  map[uint64]Symbol
}

// NewResolver launches `dlv exec --headless` against targetPath (the
// traced process's own executable, from os.Executable()) and connects
// an RPC client to it.
func NewResolver(targetPath string) (*Resolver, error) {
	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("nativeunwind: finding a free port for dlv: %w", err)
	}
	addr := "localhost:" + strconv.Itoa(port)

	cmd := exec.Command("dlv", "exec", targetPath,
		"--headless",
		"--listen="+addr,
		"--api-version=2",
		"--accept-multiclient",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("nativeunwind: starting dlv: %w", err)
	}

	time.Sleep(500 * time.Millisecond)
	client := rpc2.NewClient(addr)
	if _, err := client.GetState(); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, fmt.Errorf("nativeunwind: connecting to dlv at %s: %w", addr, err)
	}

	return &Resolver{client: client, cmd: cmd, cache: make(map[uint64]Symbol)}, nil
}

func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Resolve symbolicates ip, caching the result since native trace tree
// nodes are interned once and referenced many times.
func (r *Resolver) Resolve(ip uint64) (Symbol, error) {
	if s, ok := r.cache[ip]; ok {
		return s, nil
	}
	locs, err := r.client.FindLocation(api.EvalScope{GoroutineID: -1}, fmt.Sprintf("*%d", ip), true, nil)
	if err != nil || len(locs) == 0 {
		return Symbol{}, fmt.Errorf("nativeunwind: resolving 0x%x: %w", ip, err)
	}
	loc := locs[0]
	sym := Symbol{Line: loc.Line}
	if loc.Function != nil {
		sym.Function = loc.Function.Name()
	}
	sym.File = loc.File
	r.cache[ip] = sym
	return sym, nil
}

// Close terminates the dlv server this resolver started.
func (r *Resolver) Close() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	if err := r.cmd.Process.Kill(); err != nil {
		return err
	}
	_, err := r.cmd.Process.Wait()
	return err
}
