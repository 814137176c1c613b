package twin

import (
	"sync"
	"testing"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

func newRegistry() (*LeaseRegistry, *Handle, *Handle) {
	r := NewLeaseRegistry()
	red := &Handle{Team: Red, Dir: "/twins/red", Target: "/twins/red"}
	blue := &Handle{Team: Blue, Dir: "/twins/blue", Target: "/twins/blue"}
	r.Register(red)
	r.Register(blue)
	return r, red, blue
}

func TestLeaseRegistry_AcquireOwnTwin(t *testing.T) {
	r, red, _ := newRegistry()

	lease, err := r.Acquire(Red, red, 1)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.Target() != "/twins/red" || lease.Dir() != "/twins/red" {
		t.Errorf("lease paths = %q, %q", lease.Target(), lease.Dir())
	}
	if lease.Handle() != red {
		t.Error("lease should reference the registered handle")
	}

	again, err := r.Acquire(Red, red, 1)
	if err != nil || again != lease {
		t.Errorf("re-acquire in same round = %v, %v; want same lease", again, err)
	}
}

func TestLeaseRegistry_CannotLeaseOpponentTwin(t *testing.T) {
	r, red, blue := newRegistry()

	if _, err := r.Acquire(Red, blue, 1); !errors.Is(err, errors.ErrTwinNotOwned) {
		t.Errorf("red leasing blue twin error = %v, want ErrTwinNotOwned", err)
	}
	if _, err := r.Acquire(Blue, red, 1); !errors.Is(err, errors.ErrTwinNotOwned) {
		t.Errorf("blue leasing red twin error = %v, want ErrTwinNotOwned", err)
	}

	// A forged handle that claims the right team is still rejected.
	forged := &Handle{Team: Red, Dir: "/twins/blue", Target: "/twins/blue"}
	if _, err := r.Acquire(Red, forged, 1); !errors.Is(err, errors.ErrTwinNotOwned) {
		t.Errorf("forged handle error = %v, want ErrTwinNotOwned", err)
	}
}

func TestLeaseRegistry_RoundScoped(t *testing.T) {
	r, red, _ := newRegistry()

	l1, err := r.Acquire(Red, red, 1)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := r.Acquire(Red, red, 2); !errors.Is(err, ErrAlreadyLeased) {
		t.Errorf("Acquire for next round while held = %v, want ErrAlreadyLeased", err)
	}
	if err := r.Release(l1); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := r.Release(l1); !errors.Is(err, ErrNotLeased) {
		t.Errorf("double Release() = %v, want ErrNotLeased", err)
	}
	if _, err := r.Acquire(Red, red, 2); err != nil {
		t.Errorf("Acquire after release error = %v", err)
	}
}

func TestLeaseRegistry_LeasedAndReleaseAll(t *testing.T) {
	r, red, blue := newRegistry()

	if _, err := r.Acquire(Blue, blue, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Acquire(Red, red, 3); err != nil {
		t.Fatal(err)
	}
	got := r.Leased()
	if len(got) != 2 || got[0] != Blue || got[1] != Red {
		t.Errorf("Leased() = %v, want [blue red]", got)
	}
	r.ReleaseAll()
	if len(r.Leased()) != 0 {
		t.Error("ReleaseAll() should drop every lease")
	}
}

func TestLeaseRegistry_ReRegisterDropsLease(t *testing.T) {
	r, red, _ := newRegistry()
	if _, err := r.Acquire(Red, red, 1); err != nil {
		t.Fatal(err)
	}
	fresh := &Handle{Team: Red, Dir: "/twins/red2", Target: "/twins/red2"}
	r.Register(fresh)

	if _, err := r.Acquire(Red, red, 1); !errors.Is(err, errors.ErrTwinNotOwned) {
		t.Errorf("stale handle error = %v, want ErrTwinNotOwned", err)
	}
	if _, err := r.Acquire(Red, fresh, 1); err != nil {
		t.Errorf("Acquire(fresh) error = %v", err)
	}
	if h, ok := r.Handle(Red); !ok || h != fresh {
		t.Error("Handle(red) should return the re-registered twin")
	}
}

func TestLeaseRegistry_Concurrent(t *testing.T) {
	r, red, blue := newRegistry()
	var wg sync.WaitGroup
	for round := 1; round <= 50; round++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			if l, err := r.Acquire(Red, red, n); err == nil {
				_ = r.Release(l)
			}
		}(round)
		go func(n int) {
			defer wg.Done()
			if l, err := r.Acquire(Blue, blue, n); err == nil {
				_ = r.Release(l)
			}
		}(round)
	}
	wg.Wait()
	if len(r.Leased()) != 0 {
		t.Errorf("Leased() = %v after all releases", r.Leased())
	}
}
