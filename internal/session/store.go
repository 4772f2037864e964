package session

import (
	"slices"
	"sync"
)

// Snapshot is what subscribers receive after every change.
type Snapshot struct {
	User    *User
	Loading bool
}

// Store holds the current user and the loading flag. Only the coordinator
// writes to it; everything else reads or subscribes.
type Store struct {
	mu      sync.RWMutex
	user    *User
	loading bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

// CurrentUser returns a copy so callers cannot mutate the stored user.
func (s *Store) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUser(s.user)
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetUser replaces the user wholesale. nil clears the session.
func (s *Store) SetUser(u *User) {
	s.mu.Lock()
	s.user = cloneUser(u)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	if s.loading == loading {
		s.mu.Unlock()
		return
	}
	s.loading = loading
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Reset clears both the user and the loading flag.
func (s *Store) Reset() {
	s.mu.Lock()
	s.user = nil
	s.loading = false
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Subscribe registers fn for change notifications. fn runs synchronously on the
// writer's goroutine and must not call back into the store's setters.
func (s *Store) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{User: cloneUser(s.user), Loading: s.loading}
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}
