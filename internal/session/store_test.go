package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/provider"
)

// fakeSource is a hand-written provider stand-in.
type fakeSource struct {
	mu           sync.Mutex
	session      *model.Session
	getErr       error
	listeners    []provider.Listener
	subscribes   int
	unsubscribes int
	// onGet runs inside GetSession, before it returns.
	onGet func()
}

func (f *fakeSource) GetSession(context.Context) (*model.Session, error) {
	if f.onGet != nil {
		f.onGet()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeSource) OnAuthStateChange(fn provider.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	idx := len(f.listeners)
	f.listeners = append(f.listeners, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
		f.listeners[idx] = nil
	}
}

func (f *fakeSource) emit(event provider.Event, s *model.Session) {
	f.mu.Lock()
	fns := append([]provider.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(event, s)
		}
	}
}

func testSession(t *testing.T, userID string) *model.Session {
	t.Helper()
	s, err := model.NewSession("access-"+userID, "refresh-"+userID, "bearer",
		time.Now().Add(time.Hour), model.User{ID: userID})
	require.NoError(t, err)
	return s
}

func TestInitialize_RestoresExistingSession(t *testing.T) {
	src := &fakeSource{session: testSession(t, "u1")}
	store := NewStore(src, nil)

	var seen []*model.Session
	store.Subscribe(func(s *model.Session) { seen = append(seen, s) })

	require.NoError(t, store.Initialize(context.Background()))

	require.NotNil(t, store.Current())
	assert.Equal(t, "u1", store.Current().User.ID)
	require.Len(t, seen, 1)
	assert.Equal(t, "u1", seen[0].User.ID)
	assert.Equal(t, 1, src.subscribes)
}

func TestInitialize_OnlyOnce(t *testing.T) {
	src := &fakeSource{}
	store := NewStore(src, nil)

	require.NoError(t, store.Initialize(context.Background()))
	require.NoError(t, store.Initialize(context.Background()))

	assert.Equal(t, 1, src.subscribes, "exactly one standing subscription")
}

func TestInitialize_FetchErrorLeavesSignedOutButSubscribed(t *testing.T) {
	src := &fakeSource{getErr: errors.New("cache unreadable")}
	store := NewStore(src, nil)

	err := store.Initialize(context.Background())

	assert.Error(t, err)
	assert.Nil(t, store.Current())

	src.emit(provider.EventSignedIn, testSession(t, "u1"))
	assert.NotNil(t, store.Current())
}

func TestInitialize_EventDuringFetchWins(t *testing.T) {
	src := &fakeSource{}
	signedIn := testSession(t, "u2")
	src.onGet = func() { src.emit(provider.EventSignedIn, signedIn) }
	store := NewStore(src, nil)

	require.NoError(t, store.Initialize(context.Background()))

	require.NotNil(t, store.Current())
	assert.Equal(t, "u2", store.Current().User.ID)
}

func TestEventsUpdateCurrentAndObservers(t *testing.T) {
	src := &fakeSource{}
	store := NewStore(src, nil)
	require.NoError(t, store.Initialize(context.Background()))

	var present []bool
	store.Subscribe(func(s *model.Session) { present = append(present, s != nil) })

	src.emit(provider.EventSignedIn, testSession(t, "u1"))
	src.emit(provider.EventTokenRefreshed, testSession(t, "u1"))
	src.emit(provider.EventSignedOut, nil)

	assert.Equal(t, []bool{true, true, false}, present)
	assert.Nil(t, store.Current())
}

func TestConcurrentEventsNotifyInApplyOrder(t *testing.T) {
	src := &fakeSource{}
	store := NewStore(src, nil)
	require.NoError(t, store.Initialize(context.Background()))
	signedIn := testSession(t, "u1")

	var mu sync.Mutex
	mismatches := 0
	store.Subscribe(func(got *model.Session) {
		time.Sleep(10 * time.Microsecond)
		if (got != nil) != (store.Current() != nil) {
			mu.Lock()
			mismatches++
			mu.Unlock()
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			src.emit(provider.EventSignedIn, signedIn)
		}()
		go func() {
			defer wg.Done()
			src.emit(provider.EventSignedOut, nil)
		}()
	}
	wg.Wait()

	assert.Zero(t, mismatches)
}

func TestUnsubscribe(t *testing.T) {
	src := &fakeSource{}
	store := NewStore(src, nil)
	require.NoError(t, store.Initialize(context.Background()))

	calls := 0
	unsubscribe := store.Subscribe(func(*model.Session) { calls++ })
	unsubscribe()
	unsubscribe()

	src.emit(provider.EventSignedIn, testSession(t, "u1"))
	assert.Zero(t, calls)
}

func TestClose_IgnoresLaterEvents(t *testing.T) {
	src := &fakeSource{}
	store := NewStore(src, nil)
	require.NoError(t, store.Initialize(context.Background()))

	store.Close()
	store.Close()

	assert.Equal(t, 1, src.unsubscribes)
	src.emit(provider.EventSignedIn, testSession(t, "u1"))
	assert.Nil(t, store.Current())
}

func TestCurrent_ReturnsCopy(t *testing.T) {
	s := testSession(t, "u1")
	s.User.Metadata = map[string]any{"username": "ada"}
	src := &fakeSource{session: s}
	store := NewStore(src, nil)
	require.NoError(t, store.Initialize(context.Background()))

	got := store.Current()
	got.User.Metadata["username"] = "changed"

	assert.Equal(t, "ada", store.Current().User.MetadataString("username"))
}
