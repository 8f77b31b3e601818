package inventory

import (
	"errors"
	"sync"

	"github.com/kilianp07/parlock/core/model"
)

// ErrUnknownUnit is returned when a unit id has never been registered.
var ErrUnknownUnit = errors.New("unknown locker unit")

// Filter narrows List results.
type Filter struct {
	AvailableOnly bool
}

// Store keeps the registered locker units keyed by id and remembers the
// registration order, which is the allocation order.
type Store interface {
	Add(model.LockerUnit) bool
	Contains(id string) bool
	Get(id string) (model.LockerUnit, bool)
	SetAvailable(id string, available bool) error
	List(Filter) []model.LockerUnit
	Len() int
}

// MemoryStore is the in-process Store. It is safe for concurrent use by the
// scan loop and the registration handler.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]model.LockerUnit
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]model.LockerUnit{}}
}

// Add inserts u unless its id is already present. The check and the insert
// happen under the same lock.
func (s *MemoryStore) Add(u model.LockerUnit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[u.ID]; ok {
		return false
	}
	s.data[u.ID] = u
	s.order = append(s.order, u.ID)
	return true
}

func (s *MemoryStore) Contains(id string) bool {
	s.mu.RLock()
	_, ok := s.data[id]
	s.mu.RUnlock()
	return ok
}

func (s *MemoryStore) Get(id string) (model.LockerUnit, bool) {
	s.mu.RLock()
	u, ok := s.data[id]
	s.mu.RUnlock()
	return u, ok
}

func (s *MemoryStore) SetAvailable(id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data[id]
	if !ok {
		return ErrUnknownUnit
	}
	u.Available = available
	s.data[id] = u
	return nil
}

// List returns units in registration order.
func (s *MemoryStore) List(f Filter) []model.LockerUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.LockerUnit, 0, len(s.order))
	for _, id := range s.order {
		u := s.data[id]
		if f.AvailableOnly && !u.Available {
			continue
		}
		res = append(res, u)
	}
	return res
}

// Available is List with AvailableOnly set.
func (s *MemoryStore) Available() []model.LockerUnit {
	return s.List(Filter{AvailableOnly: true})
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
