package inventory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kilianp07/parlock/core/model"
)

func unit(id string, avail bool) model.LockerUnit {
	return model.LockerUnit{ID: id, Dimensions: model.Dimensions{Length: 100, Width: 100, Height: 100}, Available: avail}
}

func TestMemoryStore_DuplicateIsNoop(t *testing.T) {
	s := NewMemoryStore()
	if !s.Add(unit("u1", true)) {
		t.Fatal("first add rejected")
	}
	if s.Add(unit("u1", false)) {
		t.Fatal("duplicate add accepted")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 unit, got %d", s.Len())
	}
	u, _ := s.Get("u1")
	if !u.Available {
		t.Fatal("duplicate overwrote the stored unit")
	}
}

func TestMemoryStore_RegistrationOrder(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Add(unit(id, id != "a"))
	}
	out := s.List(Filter{})
	if len(out) != 3 || out[0].ID != "c" || out[1].ID != "a" || out[2].ID != "b" {
		t.Fatalf("order lost: %#v", out)
	}
	av := s.Available()
	if len(av) != 2 || av[0].ID != "c" || av[1].ID != "b" {
		t.Fatalf("available filter failed: %#v", av)
	}
}

func TestMemoryStore_SetAvailable(t *testing.T) {
	s := NewMemoryStore()
	s.Add(unit("u1", true))
	if err := s.SetAvailable("u1", false); err != nil {
		t.Fatalf("set available: %v", err)
	}
	if u, _ := s.Get("u1"); u.Available {
		t.Fatal("flag not updated")
	}
	if err := s.SetAvailable("nope", true); err != ErrUnknownUnit {
		t.Fatalf("expected ErrUnknownUnit, got %v", err)
	}
	if s.Contains("nope") || !s.Contains("u1") {
		t.Fatal("contains mismatch")
	}
}

func TestMemoryStore_ConcurrentAdd(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Add(unit(fmt.Sprintf("u%d", i%10), true))
		}(i)
	}
	wg.Wait()
	if s.Len() != 10 || len(s.List(Filter{})) != 10 {
		t.Fatalf("expected 10 units, got %d", s.Len())
	}
}
