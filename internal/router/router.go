// Package router decides which screen the app shows.
//
// Two inputs feed the decision: an explicit selector moved by navigation
// actions, and whether a session is present. Session presence always wins:
//
//	Route(present, selector) = home        if present
//	                         = selector    otherwise
//
// Navigation intent is discarded the moment a session appears or disappears.
//
// A Router is not safe for concurrent use. The app shell mutates it only from
// its event loop.
package router

// Screen is a top-level screen.
type Screen string

const (
	Welcome Screen = "welcome"
	SignUp  Screen = "sign-up"
	SignIn  Screen = "sign-in"
	Home    Screen = "home"
)

// Tab is a subview of Home.
type Tab string

const (
	Feed    Tab = "feed"
	Post    Tab = "post"
	Profile Tab = "profile"
)

// ParseTab maps a tab name to a Tab.
func ParseTab(s string) (Tab, bool) {
	switch t := Tab(s); t {
	case Feed, Post, Profile:
		return t, true
	}
	return "", false
}

// Route is the routing rule: home when a session is present, else the selector.
func Route(sessionPresent bool, selector Screen) Screen {
	if sessionPresent {
		return Home
	}
	return selector
}

// Router holds the explicit selector and the last known session presence.
type Router struct {
	selector Screen
	present  bool
	tab      Tab

	observers []func(Screen)
}

// New returns a Router on Welcome with no session.
func New() *Router {
	return &Router{selector: Welcome, tab: Feed}
}

// Screen returns the screen to render.
func (r *Router) Screen() Screen {
	return Route(r.present, r.selector)
}

// Selector returns the explicit navigation state, which Screen may override.
func (r *Router) Selector() Screen {
	return r.selector
}

// Tab returns the active Home subview.
func (r *Router) Tab() Tab {
	return r.tab
}

// OnChange registers fn to run with the new screen whenever the rendered
// screen changes.
func (r *Router) OnChange(fn func(Screen)) {
	r.observers = append(r.observers, fn)
}

// GetStarted moves welcome -> sign-up. It reports whether the screen moved.
func (r *Router) GetStarted() bool {
	return r.navigate(Welcome, SignUp)
}

// ToSignIn moves sign-up -> sign-in.
func (r *Router) ToSignIn() bool {
	return r.navigate(SignUp, SignIn)
}

// ToSignUp moves sign-in -> sign-up.
func (r *Router) ToSignUp() bool {
	return r.navigate(SignIn, SignUp)
}

// navigate applies a selector transition. It is ignored unless the rendered
// screen is from; in particular every navigation is ignored while on Home.
func (r *Router) navigate(from, to Screen) bool {
	if r.Screen() != from {
		return false
	}
	r.set(func() { r.selector = to })
	return true
}

// SetSessionPresent records the session presence. Losing the session resets
// the selector to Welcome; any change resets the tab to Feed.
func (r *Router) SetSessionPresent(present bool) {
	if present == r.present {
		return
	}
	r.set(func() {
		r.present = present
		r.tab = Feed
		if !present {
			r.selector = Welcome
		}
	})
}

// SelectTab switches the Home subview. Ignored off Home.
func (r *Router) SelectTab(tab Tab) bool {
	if r.Screen() != Home {
		return false
	}
	if _, ok := ParseTab(string(tab)); !ok {
		return false
	}
	r.tab = tab
	return true
}

func (r *Router) set(mutate func()) {
	before := r.Screen()
	mutate()
	after := r.Screen()
	if after == before {
		return
	}
	for _, fn := range r.observers {
		fn(after)
	}
}
