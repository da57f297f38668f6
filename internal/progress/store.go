// Package progress holds per-survey answering state so a participant can
// reload and resume exactly where they left off.
//
// Every mutation is a pure reducer over State; the Store serialises them,
// persists {progress, currentSurvey} after each change and notifies
// observers. Timestamps always come from the store's own clock, never from
// the caller. They are UX hints only: nothing here is verified by a server.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/soaringjerry/synap-respond/internal/storage"
)

// Observer is told about every committed state change. The State passed in
// is shared with the store and must be treated as read-only.
type Observer interface {
	ProgressChanged(s State)
}

type ObserverFunc func(s State)

func (f ObserverFunc) ProgressChanged(s State) { f(s) }

type Store struct {
	mu        sync.Mutex
	state     State
	store     storage.Storage
	key       string
	log       *slog.Logger
	now       func() time.Time
	nextID    int
	observers map[int]Observer
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithKey overrides the storage key the state is persisted under.
func WithKey(key string) Option { return func(s *Store) { s.key = key } }

// New builds a store hydrated from durable storage. Unreadable or corrupt
// state starts empty.
func New(store storage.Storage, opts ...Option) *Store {
	s := &Store{
		store:     store,
		key:       storage.KeyProgressStore,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		observers: map[int]Observer{},
	}
	for _, o := range opts {
		o(s)
	}
	s.state = s.load()
	return s
}

func (s *Store) load() State {
	st := emptyState()
	if !storage.ReadJSON(s.store, s.key, &st, s.log) {
		return emptyState()
	}
	return normalize(st)
}

// Reload discards the in-memory state and re-reads durable storage. Another
// writer (a second tab, a second process) wins: last write wins.
func (s *Store) Reload() {
	s.mu.Lock()
	s.state = s.load()
	st := s.state
	obs := s.snapshotObservers()
	s.mu.Unlock()
	for _, o := range obs {
		o.ProgressChanged(st)
	}
}

func (s *Store) apply(fn func(State, time.Time) (State, bool)) bool {
	s.mu.Lock()
	next, changed := fn(s.state, s.now())
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.state = next
	storage.WriteJSON(s.store, s.key, next, s.log)
	obs := s.snapshotObservers()
	s.mu.Unlock()
	for _, o := range obs {
		o.ProgressChanged(next)
	}
	return true
}

// StartSurvey begins (or restarts) surveyID at question 0 with no answers.
func (s *Store) StartSurvey(surveyID string, totalQuestions int) {
	s.apply(func(st State, now time.Time) (State, bool) {
		return startSurvey(st, surveyID, totalQuestions, now)
	})
}

// SaveResponse records value for questionID. It is a no-op unless surveyID
// has been started and not completed.
func (s *Store) SaveResponse(surveyID, questionID string, value any) bool {
	return s.apply(func(st State, now time.Time) (State, bool) {
		return saveResponse(st, surveyID, questionID, value, now)
	})
}

func (s *Store) NextQuestion(surveyID string) bool {
	return s.apply(func(st State, now time.Time) (State, bool) {
		return moveQuestion(st, surveyID, 1, now)
	})
}

func (s *Store) PreviousQuestion(surveyID string) bool {
	return s.apply(func(st State, now time.Time) (State, bool) {
		return moveQuestion(st, surveyID, -1, now)
	})
}

// CompleteSurvey flags the record completed and releases the active pointer.
// The record is kept; ClearProgress deletes it.
func (s *Store) CompleteSurvey(surveyID string) bool {
	return s.apply(func(st State, now time.Time) (State, bool) {
		return completeSurvey(st, surveyID, now)
	})
}

func (s *Store) ClearProgress(surveyID string) bool {
	return s.apply(func(st State, _ time.Time) (State, bool) {
		return clearProgress(st, surveyID)
	})
}

// Progress returns a copy of the record for surveyID.
func (s *Store) Progress(surveyID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Progress[surveyID]
	if !ok {
		return Record{}, false
	}
	r.Responses = copyResponses(r.Responses)
	return r, true
}

// CurrentSurvey is the survey in progress, or "" if none.
func (s *Store) CurrentSurvey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentSurvey
}

func (s *Store) IsAnswered(surveyID, questionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Progress[surveyID].Responses[questionID]
	return ok
}

// CompletionRatio is answered/total in [0,1]; 0 for unknown surveys.
func (s *Store) CompletionRatio(surveyID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Progress[surveyID]
	if !ok || r.TotalQuestions == 0 {
		return 0
	}
	if r.IsCompleted {
		return 1
	}
	ratio := float64(len(r.Responses)) / float64(r.TotalQuestions)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := State{Progress: make(map[string]Record, len(s.state.Progress)), CurrentSurvey: s.state.CurrentSurvey}
	for k, r := range s.state.Progress {
		r.Responses = copyResponses(r.Responses)
		out.Progress[k] = r
	}
	return out
}

// Subscribe registers o and returns a func that removes it.
func (s *Store) Subscribe(o Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = o
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshotObservers() []Observer {
	out := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		out = append(out, o)
	}
	return out
}
