package host

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"
)

func TestRegistryRegisterLookup(t *testing.T) {
	reg := newInstanceRegistry()
	cfg := ResolvedConfig{Application: "banking", Identity: "t1"}

	if err := reg.register("t1", &entry{cfg: cfg}); err != nil {
		t.Fatalf("register: %v", err)
	}
	e, err := reg.lookup("t1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e.cfg.Identity != "t1" {
		t.Errorf("entry identity = %q", e.cfg.Identity)
	}

	err = reg.register("t1", &entry{cfg: cfg})
	var ase *AlreadyStartedError
	if !errors.As(err, &ase) {
		t.Fatalf("duplicate register: got %v, want AlreadyStartedError", err)
	}

	if !reg.unregister("t1") {
		t.Error("unregister should report the entry existed")
	}
	if reg.unregister("t1") {
		t.Error("second unregister should report nothing existed")
	}
	if _, err := reg.lookup("t1"); !IsNotStarted(err) {
		t.Errorf("lookup after unregister: %v", err)
	}
}

func TestRegistryIdentitiesSorted(t *testing.T) {
	reg := newInstanceRegistry()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := reg.register(id, &entry{}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	got := reg.identities()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("identities = %v, want %v", got, want)
		}
	}
}

func TestRegistryConcurrentRegisterOneWinner(t *testing.T) {
	reg := newInstanceRegistry()

	const n = 32
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- reg.register("dup", &entry{})
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case IsAlreadyStarted(err):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Errorf("got %d winners, %d losers; want 1, %d", ok, dup, n-1)
	}
}

// TestRegistryAtMostOneEntry drives random register/unregister sequences and
// checks the registry never holds more than one entry per identity and that
// its view always matches a model map.
func TestRegistryAtMostOneEntry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reg := newInstanceRegistry()
		model := make(map[string]bool)
		identity := rapid.SampledFrom([]string{"a", "b", "c", "d"})

		t.Repeat(map[string]func(*rapid.T){
			"register": func(t *rapid.T) {
				id := identity.Draw(t, "id")
				err := reg.register(id, &entry{})
				if model[id] {
					if !IsAlreadyStarted(err) {
						t.Fatalf("register %q: got %v, want AlreadyStarted", id, err)
					}
				} else {
					if err != nil {
						t.Fatalf("register %q: %v", id, err)
					}
					model[id] = true
				}
			},
			"unregister": func(t *rapid.T) {
				id := identity.Draw(t, "id")
				existed := reg.unregister(id)
				if existed != model[id] {
					t.Fatalf("unregister %q: existed=%v, model=%v", id, existed, model[id])
				}
				delete(model, id)
			},
			"": func(t *rapid.T) {
				ids := reg.identities()
				if len(ids) != len(model) {
					t.Fatalf("registry holds %d entries, model %d", len(ids), len(model))
				}
				seen := make(map[string]bool, len(ids))
				for _, id := range ids {
					if seen[id] {
						t.Fatalf("identity %q listed twice", id)
					}
					seen[id] = true
					if !model[id] {
						t.Fatalf("registry holds %q the model does not", id)
					}
				}
			},
		})
	})
}

func TestRegistryAttachTree(t *testing.T) {
	reg := newInstanceRegistry()
	if err := reg.register("t1", &entry{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	reg.attachTree("t1", fakeTree{id: "tree-1"})
	e, err := reg.lookup("t1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e.tree == nil || e.tree.ID() != "tree-1" {
		t.Errorf("tree not attached: %v", e.tree)
	}

	// Attaching to a vanished identity must not panic or resurrect it.
	reg.unregister("t1")
	reg.attachTree("t1", fakeTree{id: "tree-2"})
	if _, err := reg.lookup("t1"); !IsNotStarted(err) {
		t.Errorf("attachTree resurrected a removed entry: %v", err)
	}
}

func TestRegistryLookupErrorCarriesIdentity(t *testing.T) {
	reg := newInstanceRegistry()
	_, err := reg.lookup("ghost")
	var nse *NotStartedError
	if !errors.As(err, &nse) {
		t.Fatalf("got %v, want NotStartedError", err)
	}
	if nse.Identity != "ghost" {
		t.Errorf("identity = %q", nse.Identity)
	}
	if want := fmt.Sprintf("instance %q not started", "ghost"); err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}
