// Package session mirrors the provider's session for the rest of the app.
//
// The Store never changes the session itself. Sign-in, sign-out and refresh
// all happen in the provider; the Store learns about them through one
// standing subscription and passes them on to its own observers.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/provider"
)

// Source is the part of the provider the Store reads from.
type Source interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn provider.Listener) (unsubscribe func())
}

// Observer receives every session update; nil means signed out.
type Observer func(*model.Session)

// Store holds the last known session.
type Store struct {
	source Source
	logger *slog.Logger

	mu          sync.RWMutex
	current     *model.Session
	updates     int // provider events applied so far
	initialized bool
	closed      bool
	unsubscribe func()

	// notifyMu makes an update and its notification one step, so observers
	// see updates in the order they were applied.
	notifyMu sync.Mutex

	observersMu sync.Mutex
	observers   map[int]Observer
	nextID      int
}

func NewStore(source Source, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		source:    source,
		logger:    logger,
		observers: make(map[int]Observer),
	}
}

// Initialize subscribes to the provider and loads the existing session, which
// the provider may restore from its credential cache. Observers are notified
// with the initial state. Calling it again does nothing.
//
// The subscription opens before the fetch so no event is lost in between; an
// event that lands first wins over the fetched value.
//
// A failed fetch leaves the store signed out but subscribed, and is returned.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	unsubscribe := s.source.OnAuthStateChange(s.handleEvent)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	fetched, fetchErr := s.source.GetSession(ctx)
	if fetchErr != nil {
		s.logger.Warn("loading existing session failed", slog.String("error", fetchErr.Error()))
		fetched = nil
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	apply := s.updates == 0 && !s.closed
	if apply {
		s.current = fetched
	}
	current := s.current
	s.mu.Unlock()

	s.logger.Info("session store initialized",
		slog.String("event", string(provider.EventInitialSession)),
		slog.Bool("present", current != nil),
	)
	if apply {
		s.notify(current)
	}

	if fetchErr != nil {
		return fmt.Errorf("session: initializing: %w", fetchErr)
	}
	return nil
}

func (s *Store) handleEvent(event provider.Event, session *model.Session) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.current = session
	s.updates++
	s.mu.Unlock()

	s.logger.Debug("session updated",
		slog.String("event", string(event)),
		slog.Bool("present", session != nil),
	)
	s.notify(session)
}

// Current returns the last known session, or nil when signed out.
func (s *Store) Current() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Subscribe registers fn for every later update.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.observersMu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.observersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.observersMu.Lock()
			delete(s.observers, id)
			s.observersMu.Unlock()
		})
	}
}

func (s *Store) notify(session *model.Session) {
	s.observersMu.Lock()
	fns := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.observersMu.Unlock()

	for _, fn := range fns {
		fn(session.Clone())
	}
}

// Close releases the provider subscription. Later provider events are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
