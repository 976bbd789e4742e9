// Package progress holds the optimistic local mirror of quest progression.
// Completions applied locally start out pending and are promoted to
// confirmed only when a remote snapshot reconciles them; the score is never
// guessed locally, it always comes from the snapshot.
package progress

import (
	"errors"
	"sort"
	"sync"
)

// ErrStaleSnapshot is returned when a snapshot older than the last applied
// one is offered for reconciliation.
var ErrStaleSnapshot = errors.New("stale snapshot")

// Snapshot is the projection of a remote progression snapshot that the
// store reconciles against. The session layer builds it from the sync
// client's response.
type Snapshot struct {
	Version          int64
	Score            int
	CompletedObjects []string
	CompletedPuzzles []string
}

// State is a point-in-time copy of the local progression, safe to hand to
// callers.
type State struct {
	Score            int      `json:"score"`
	CompletedObjects []string `json:"completedObjects"`
	PendingObjects   []string `json:"pendingObjects"`
	CompletedPuzzles []string `json:"completedPuzzles"`
	Version          int64    `json:"version"`
	Loading          bool     `json:"loading"`
	Error            string   `json:"error,omitempty"`
}

// Completed reports whether objectID is confirmed or pending.
func (s State) Completed(objectID string) bool {
	for _, id := range s.CompletedObjects {
		if id == objectID {
			return true
		}
	}
	for _, id := range s.PendingObjects {
		if id == objectID {
			return true
		}
	}
	return false
}

// Store is mutated from the session layer only; the mutex exists so the
// state endpoint can read it concurrently.
type Store struct {
	mu        sync.Mutex
	score     int
	confirmed map[string]struct{}
	pending   map[string]struct{}
	puzzles   map[string]struct{}
	version   int64
	loading   bool
	lastErr   string
}

func NewStore() *Store {
	return &Store{
		confirmed: make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		puzzles:   make(map[string]struct{}),
	}
}

// MarkArrived records an optimistic completion. It stays pending until a
// snapshot confirms it; it is never rolled back on failure.
func (s *Store) MarkArrived(objectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confirmed[objectID]; ok {
		return
	}
	s.pending[objectID] = struct{}{}
}

func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.loading = false
	s.mu.Unlock()
}

// ApplySnapshot replaces the confirmed sets and score with the snapshot's
// projection. The replace is total, not a merge, so local state cannot
// drift from the authoritative history. Snapshots older than the last
// applied version are rejected with ErrStaleSnapshot; an equal version is
// re-applied (idempotent start calls return the same version).
func (s *Store) ApplySnapshot(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Version < s.version {
		// A stale response still ends the reconciliation attempt; the
		// newer state is already in place.
		s.loading = false
		return ErrStaleSnapshot
	}

	s.version = snap.Version
	s.score = snap.Score
	s.confirmed = make(map[string]struct{}, len(snap.CompletedObjects))
	for _, id := range snap.CompletedObjects {
		s.confirmed[id] = struct{}{}
		delete(s.pending, id)
	}
	s.puzzles = make(map[string]struct{}, len(snap.CompletedPuzzles))
	for _, id := range snap.CompletedPuzzles {
		s.puzzles[id] = struct{}{}
	}
	s.loading = false
	s.lastErr = ""
	return nil
}

// Version returns the last applied snapshot version.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// State returns a sorted copy of the current local progression.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Score:            s.score,
		CompletedObjects: sortedKeys(s.confirmed),
		PendingObjects:   sortedKeys(s.pending),
		CompletedPuzzles: sortedKeys(s.puzzles),
		Version:          s.version,
		Loading:          s.loading,
		Error:            s.lastErr,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
