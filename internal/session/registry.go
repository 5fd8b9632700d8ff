package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/monarch-project/dbgmesh/internal/command"
)

// Registry owns every live Session, indexed by (actor name, rank). It is
// owned exclusively by the controller — spec.md §4.2 — no other component
// may mutate it.
type Registry struct {
	mu      sync.RWMutex
	byActor map[string]map[int]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byActor: make(map[string]map[int]*Session)}
}

// Insert adds a new session. It fails if the (actor, rank) key already
// exists — spec.md §3's "DuplicateSession" error kind.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := s.Key()
	ranks, ok := r.byActor[k.ActorName]
	if !ok {
		ranks = make(map[int]*Session)
		r.byActor[k.ActorName] = ranks
	}
	if _, exists := ranks[k.Rank]; exists {
		return fmt.Errorf("debug session for rank %d of actor %s already exists", k.Rank, k.ActorName)
	}
	ranks[k.Rank] = s
	return nil
}

// Remove deletes and returns the session for (actor, rank). It fails if no
// such session exists. The actor's bucket is dropped once it's empty.
func (r *Registry) Remove(actor string, rank int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ranks, ok := r.byActor[actor]
	if !ok {
		return nil, fmt.Errorf("no debug session for rank %d for actor %s", rank, actor)
	}
	s, ok := ranks[rank]
	if !ok {
		return nil, fmt.Errorf("no debug session for rank %d for actor %s", rank, actor)
	}
	delete(ranks, rank)
	if len(ranks) == 0 {
		delete(r.byActor, actor)
	}
	return s, nil
}

// Get looks up the session for (actor, rank).
func (r *Registry) Get(actor string, rank int) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ranks, ok := r.byActor[actor]
	if !ok {
		return nil, fmt.Errorf("no debug session for rank %d for actor %s", rank, actor)
	}
	s, ok := ranks[rank]
	if !ok {
		return nil, fmt.Errorf("no debug session for rank %d for actor %s", rank, actor)
	}
	return s, nil
}

// Contains reports whether a session exists for (actor, rank).
func (r *Registry) Contains(actor string, rank int) bool {
	_, err := r.Get(actor, rank)
	return err == nil
}

// Len returns the total number of live sessions across all actors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ranks := range r.byActor {
		n += len(ranks)
	}
	return n
}

// Selection describes the `iter` filter of spec.md §4.2: All selects every
// actor/rank; Actor alone selects every rank of one actor; Actor+Ranks
// additionally filters by the rank selector.
type Selection struct {
	Actor string
	All   bool // true: every actor (Ranks/Actor ignored)
	Ranks *command.Ranks
}

// All is the selection that matches every session.
func All() Selection { return Selection{All: true} }

// ForActor selects every rank of one actor.
func ForActor(actor string) Selection { return Selection{Actor: actor} }

// ForActorRanks selects the sessions of one actor matching ranks.
func ForActorRanks(actor string, ranks command.Ranks) Selection {
	return Selection{Actor: actor, Ranks: &ranks}
}

// Iter returns the sessions matching sel. Order is unspecified; callers
// that need a stable order should use Info, which sorts.
func (r *Registry) Iter(sel Selection) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	if sel.All {
		for _, ranks := range r.byActor {
			for _, s := range ranks {
				out = append(out, s)
			}
		}
		return out
	}

	ranks, ok := r.byActor[sel.Actor]
	if !ok {
		return nil
	}
	if sel.Ranks == nil {
		for _, s := range ranks {
			out = append(out, s)
		}
		return out
	}
	for rank, s := range ranks {
		if sel.Ranks.Match(s.Coords(), rank) {
			out = append(out, s)
		}
	}
	return out
}

// Info returns a snapshot of every session, sorted lexicographically by
// (actor name, rank) — spec.md §3's registry ordering invariant.
func (r *Registry) Info() []Info {
	sessions := r.Iter(All())
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key.Less(infos[j].Key) })
	return infos
}
