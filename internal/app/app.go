// Package app is the application shell: one event loop that owns the UI
// state and runs everything that touches it.
//
// EVENT LOOP:
// Every change to the router, the loaded posts or the view happens inside a
// function executed by Run, one at a time. Action handlers run on their own
// goroutines (they wait on the network) and post their results back onto the
// loop. Session updates from the store are posted the same way, so the last
// one posted wins. While an auth handler runs, session updates wait until
// its notice has been shown.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/router"
	"github.com/sakif/framez/internal/service"
	"github.com/sakif/framez/internal/session"
)

const eventQueueSize = 64

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("app: closed")

// State is what the view renders.
type State struct {
	Screen  router.Screen
	Tab     router.Tab
	Session *model.Session
	Feed    []model.Post
	// Profile holds the signed-in user's own posts.
	Profile []model.Post
}

// View draws the app. It is only ever called from the event loop.
type View interface {
	Render(State)
	ShowNotice(service.Notice)
}

// App wires the session store, the router and the action handlers together.
type App struct {
	store  *session.Store
	router *router.Router
	auth   *service.AuthService
	posts  *service.PostService
	view   View
	logger *slog.Logger

	events chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce   sync.Once
	closeOnce   sync.Once
	unsubscribe func()

	closeMu sync.Mutex
	closed  bool

	// owned by the event loop
	session *model.Session
	feed    []model.Post
	profile []model.Post

	// authRunning counts auth handlers in flight. Session updates that arrive
	// meanwhile are held in heldSession until the last one's outcome is shown.
	authRunning int
	held        bool
	heldSession *model.Session

	oauthMu     sync.Mutex
	oauthCancel context.CancelFunc
}

func New(store *session.Store, auth *service.AuthService, posts *service.PostService, view View, logger *slog.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		store:  store,
		router: router.New(),
		auth:   auth,
		posts:  posts,
		view:   view,
		logger: logger,
		events: make(chan func(), eventQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	a.router.OnChange(a.screenChanged)
	return a
}

// Start registers the app's single session subscription and initializes the
// store. Session updates are routed onto the event loop.
//
// An initialization error is returned, but the app is still usable: it
// starts signed out.
func (a *App) Start(ctx context.Context) error {
	var err error
	a.startOnce.Do(func() {
		a.unsubscribe = a.store.Subscribe(func(s *model.Session) {
			a.Post(func() { a.applySession(s) })
		})
		err = a.store.Initialize(ctx)
		a.Post(a.render)
	})
	return err
}

// Run executes posted events until ctx is done or the app is closed.
func (a *App) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.ctx.Done():
			return ErrClosed
		case fn := <-a.events:
			fn()
		}
	}
}

// Post queues fn for the event loop. After Close it is dropped.
func (a *App) Post(fn func()) {
	select {
	case a.events <- fn:
	case <-a.ctx.Done():
	}
}

// Close releases the session subscription, cancels running handlers and
// waits for them.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		a.closeMu.Lock()
		a.closed = true
		a.closeMu.Unlock()

		a.cancel()
		a.wg.Wait()
	})
}

// Screen returns the current screen, read on the event loop.
func (a *App) Screen() router.Screen {
	var s router.Screen
	a.call(func() { s = a.router.Screen() })
	return s
}

// Snapshot returns the full render state, read on the event loop.
func (a *App) Snapshot() State {
	var st State
	a.call(func() { st = a.state() })
	return st
}

// call runs fn on the event loop and waits for it. It returns early, without
// running fn, once the app is closed.
func (a *App) call(fn func()) {
	done := make(chan struct{})
	a.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-a.ctx.Done():
	}
}

// =========================================================================
// NAVIGATION
// =========================================================================

func (a *App) GetStarted() { a.Post(func() { a.navigated(a.router.GetStarted()) }) }
func (a *App) ToSignIn() { a.Post(func() { a.navigated(a.router.ToSignIn()) }) }
func (a *App) ToSignUp() { a.Post(func() { a.navigated(a.router.ToSignUp()) }) }

// SelectTab switches the Home subview and loads what it shows.
func (a *App) SelectTab(tab router.Tab) {
	a.Post(func() {
		if !a.router.SelectTab(tab) {
			return
		}
		a.tabSelected(tab)
		a.render()
	})
}

func (a *App) navigated(moved bool) {
	if moved {
		a.render()
	}
}

// =========================================================================
// ACTIONS
// =========================================================================

func (a *App) SignUp(form service.SignUpForm) {
	a.authAsync(func(ctx context.Context) service.Outcome { return a.auth.SignUp(ctx, form) })
}

func (a *App) SignIn(form service.SignInForm) {
	a.authAsync(func(ctx context.Context) service.Outcome { return a.auth.SignIn(ctx, form) })
}

// SignInWithOAuth runs the browser flow; CancelOAuth aborts it.
func (a *App) SignInWithOAuth(providerName string) {
	a.authAsync(func(ctx context.Context) service.Outcome {
		ctx, cancel := context.WithCancel(ctx)
		a.oauthMu.Lock()
		a.oauthCancel = cancel
		a.oauthMu.Unlock()
		defer func() {
			a.oauthMu.Lock()
			a.oauthCancel = nil
			a.oauthMu.Unlock()
			cancel()
		}()
		return a.auth.SignInWithOAuth(ctx, providerName)
	})
}

// CancelOAuth cancels a running OAuth sign-in, which then settles as cancelled.
func (a *App) CancelOAuth() {
	a.oauthMu.Lock()
	defer a.oauthMu.Unlock()
	if a.oauthCancel != nil {
		a.oauthCancel()
	}
}

func (a *App) SignOut() {
	a.authAsync(func(ctx context.Context) service.Outcome { return a.auth.SignOut(ctx) })
}

func (a *App) CreatePost(form service.PostForm) {
	a.async(func(ctx context.Context) service.Outcome { return a.posts.CreatePost(ctx, form) })
}

// LoadFeed fetches all posts in the background.
func (a *App) LoadFeed() {
	a.Post(a.loadFeed)
}

// LoadProfile fetches the signed-in user's posts in the background.
func (a *App) LoadProfile() {
	a.Post(a.loadProfile)
}

// async runs a handler off the loop and applies its outcome on the loop.
func (a *App) async(handler func(ctx context.Context) service.Outcome) {
	a.goAsync(func(ctx context.Context) {
		out := handler(ctx)
		a.Post(func() { a.applyOutcome(out) })
	})
}

// authAsync is async for handlers that change the session. The outcome's
// notice is shown before the session change it caused is applied.
func (a *App) authAsync(handler func(ctx context.Context) service.Outcome) {
	a.Post(func() {
		started := a.goAsync(func(ctx context.Context) {
			out := handler(ctx)
			a.Post(func() { a.authSettled(out) })
		})
		if started {
			a.authRunning++
		}
	})
}

func (a *App) goAsync(fn func(ctx context.Context)) bool {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return false
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
	return true
}

// =========================================================================
// LOOP-SIDE STATE CHANGES
// =========================================================================

func (a *App) applySession(s *model.Session) {
	if a.authRunning > 0 {
		a.held, a.heldSession = true, s
		return
	}
	a.session = s
	if s == nil {
		a.feed, a.profile = nil, nil
	}
	a.router.SetSessionPresent(s != nil)
	a.render()
}

func (a *App) applyOutcome(out service.Outcome) {
	if out.Busy {
		return
	}
	if out.Notice != nil {
		a.view.ShowNotice(*out.Notice)
	}
	if out.Navigate == router.SignIn {
		a.router.ToSignIn()
	}
	if out.Tab != "" && a.router.SelectTab(out.Tab) {
		a.tabSelected(out.Tab)
	}
	a.render()
}

func (a *App) authSettled(out service.Outcome) {
	a.applyOutcome(out)
	a.authRunning--
	if a.authRunning == 0 && a.held {
		s := a.heldSession
		a.held, a.heldSession = false, nil
		a.applySession(s)
	}
}

// screenChanged runs inside router mutations on the loop.
func (a *App) screenChanged(s router.Screen) {
	a.logger.Debug("screen changed", slog.String("screen", string(s)))
	if s == router.Home {
		a.loadFeed()
	}
}

func (a *App) tabSelected(tab router.Tab) {
	switch tab {
	case router.Feed:
		a.loadFeed()
	case router.Profile:
		a.loadProfile()
	}
}

func (a *App) loadFeed() {
	a.goAsync(func(ctx context.Context) {
		posts, err := a.posts.Feed(ctx)
		a.Post(func() {
			if err != nil {
				a.showLoadError(err)
				return
			}
			a.feed = posts
			a.render()
		})
	})
}

func (a *App) loadProfile() {
	if a.session == nil {
		return
	}
	userID := a.session.User.ID
	a.goAsync(func(ctx context.Context) {
		posts, err := a.posts.UserPosts(ctx, userID)
		a.Post(func() {
			if err != nil {
				a.showLoadError(err)
				return
			}
			// Ignore results for a user who has since signed out.
			if a.session == nil || a.session.User.ID != userID {
				return
			}
			a.profile = posts
			a.render()
		})
	})
}

func (a *App) showLoadError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.view.ShowNotice(service.Notice{
		Kind:    service.NoticeError,
		Title:   "Error",
		Message: apperror.UserMessage(err),
	})
}

func (a *App) state() State {
	return State{
		Screen:  a.router.Screen(),
		Tab:     a.router.Tab(),
		Session: a.session.Clone(),
		Feed:    a.feed,
		Profile: a.profile,
	}
}

func (a *App) render() {
	a.view.Render(a.state())
}
