package nativeunwind

import (
	"testing"

	"github.com/go-delve/delve/service/api"
)

type fakeLocator struct {
	calls int
	loc   api.Location
	err   error
}

func (f *fakeLocator) FindLocation(scope api.EvalScope, loc string, findInstructions bool, rules [][2]string) ([]api.Location, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []api.Location{f.loc}, nil
}

func TestResolveCachesByAddress(t *testing.T) {
	fn := &api.Function{Name_: "mylib.do_work"}
	fl := &fakeLocator{loc: api.Location{File: "mylib.c", Line: 42, Function: fn}}
	r := &Resolver{client: fl, cache: make(map[uint64]Symbol)}

	s1, err := r.Resolve(0xdeadbeef)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := r.Resolve(0xdeadbeef)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("expected identical symbol across calls, got %+v vs %+v", s1, s2)
	}
	if fl.calls != 1 {
		t.Fatalf("expected the underlying locator to be called once due to caching, got %d calls", fl.calls)
	}
	if s1.Function != "mylib.do_work" || s1.File != "mylib.c" || s1.Line != 42 {
		t.Fatalf("unexpected symbol: %+v", s1)
	}
}

func TestResolveDistinctAddressesAreNotCachedTogether(t *testing.T) {
	fl := &fakeLocator{loc: api.Location{File: "a.c", Line: 1}}
	r := &Resolver{client: fl, cache: make(map[uint64]Symbol)}

	r.Resolve(0x1)
	r.Resolve(0x2)
	if fl.calls != 2 {
		t.Fatalf("expected 2 calls for 2 distinct addresses, got %d", fl.calls)
	}
}
