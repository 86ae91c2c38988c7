package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/containerd/errdefs"

	"virtops"
	"virtops/internal/fault"
)

// Store is an in-memory state store. It satisfies convergence.Store and
// convergence.Locker.
type Store struct {
	CallRecorder
	Faults *fault.Injector

	mu      sync.Mutex
	current map[virtops.Identity]*virtops.Record
	desired map[virtops.Identity]*virtops.Record
	locked  map[virtops.Identity]bool
}

func NewStore() *Store {
	return &Store{
		current: make(map[virtops.Identity]*virtops.Record),
		desired: make(map[virtops.Identity]*virtops.Record),
		locked:  make(map[virtops.Identity]bool),
	}
}

func (s *Store) GetStates(_ context.Context, id virtops.Identity) (*virtops.Record, *virtops.Record, error) {
	s.record("GetStates", id)
	if err := s.Faults.Eval("GetStates", id); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, des := s.current[id], s.desired[id]
	if virtops.MatchStates(cur, des) {
		return nil, nil, nil
	}
	return cur.Clone(), des.Clone(), nil
}

func (s *Store) SetCurrent(_ context.Context, id virtops.Identity, rec *virtops.Record) error {
	s.record("SetCurrent", id, rec.Clone())
	if err := s.Faults.Eval("SetCurrent", id, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		delete(s.current, id)
		return nil
	}
	s.current[id] = rec.Clone()
	return nil
}

func (s *Store) SetDesired(_ context.Context, id virtops.Identity, rec *virtops.Record) error {
	s.record("SetDesired", id, rec.Clone())
	if err := s.Faults.Eval("SetDesired", id, rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil {
		delete(s.desired, id)
		return nil
	}
	s.desired[id] = rec.Clone()
	return nil
}

// Lock fails with errdefs.ErrConflict while id is already locked.
func (s *Store) Lock(_ context.Context, id virtops.Identity) (func(), error) {
	s.record("Lock", id)
	if err := s.Faults.Eval("Lock", id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[id] {
		return nil, fmt.Errorf("%s is being converged elsewhere: %w", id, errdefs.ErrConflict)
	}
	s.locked[id] = true
	return func() {
		s.record("Unlock", id)
		s.mu.Lock()
		delete(s.locked, id)
		s.mu.Unlock()
	}, nil
}

// Current returns a copy of the stored current record of id.
func (s *Store) Current(id virtops.Identity) *virtops.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current[id].Clone()
}

// Desired returns a copy of the stored desired record of id.
func (s *Store) Desired(id virtops.Identity) *virtops.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired[id].Clone()
}

// Identities lists every identity with a current or desired record, sorted.
func (s *Store) Identities() []virtops.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[virtops.Identity]bool)
	for id := range s.current {
		seen[id] = true
	}
	for id := range s.desired {
		seen[id] = true
	}
	out := make([]virtops.Identity, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
