package service

import (
	"sync/atomic"

	"github.com/sakif/framez/internal/router"
)

// NoticeKind tells the UI how to present a Notice.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeInfo    NoticeKind = "info"
	NoticeError   NoticeKind = "error"
)

// Notice is a user-facing message, shown as a modal alert.
type Notice struct {
	Kind    NoticeKind
	Title   string
	Message string
}

// Outcome is what an action handler hands back to the app shell once it
// settles. Handlers never return errors: every failure is already a Notice.
type Outcome struct {
	Notice *Notice
	// Navigate is an explicit screen change requested by the handler, or ""
	// to leave routing to the session subscription.
	Navigate router.Screen
	// Tab, when set, switches the Home subview.
	Tab router.Tab
	// Busy means the handler was already running and this call did nothing.
	Busy bool
}

func errorNotice(title, message string) *Notice {
	return &Notice{Kind: NoticeError, Title: title, Message: message}
}

func successNotice(message string) *Notice {
	return &Notice{Kind: NoticeSuccess, Title: "Success!", Message: message}
}

// Indicator is a per-handler in-progress flag. It is safe for concurrent use
// so the UI can poll it while the handler runs on another goroutine.
type Indicator struct {
	active atomic.Bool
}

// Active reports whether the handler is running.
func (i *Indicator) Active() bool {
	return i.active.Load()
}

// begin marks the handler running; false means it already was.
func (i *Indicator) begin() bool {
	return i.active.CompareAndSwap(false, true)
}

func (i *Indicator) end() {
	i.active.Store(false)
}
