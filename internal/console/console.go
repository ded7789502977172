// Package console is the line-oriented terminal front end. It renders
// app.State as plain text and turns typed commands into app actions.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sakif/framez/internal/app"
	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/router"
	"github.com/sakif/framez/internal/service"
)

// ErrQuit is returned by Run when the user types "quit".
var ErrQuit = errors.New("console: quit")

// Actions is what the console drives; *app.App implements it.
type Actions interface {
	Screen() router.Screen
	GetStarted()
	ToSignIn()
	ToSignUp()
	SelectTab(router.Tab)
	SignUp(service.SignUpForm)
	SignIn(service.SignInForm)
	SignInWithOAuth(providerName string)
	CancelOAuth()
	SignOut()
	CreatePost(service.PostForm)
	LoadFeed()
	LoadProfile()
}

// PasswordReader reads one secret line without echoing it.
type PasswordReader func() (string, error)

// Option configures a Console.
type Option func(*Console)

// WithPasswordReader reads password fields with fn instead of the line reader.
func WithPasswordReader(fn PasswordReader) Option {
	return func(c *Console) { c.readPassword = fn }
}

// Console implements app.View on an io.Writer and reads commands from an io.Reader.
type Console struct {
	out          io.Writer
	readPassword PasswordReader
	now          func() time.Time

	// The reader goroutine scans a line only when asked through want, so
	// nothing else reads from in between prompts.
	want    chan struct{}
	lines   chan string
	done    chan struct{}
	pending bool // a line was asked for and not yet received
	stop    sync.Once

	mu sync.Mutex // serialises writes
}

var _ app.View = (*Console)(nil)

// New starts the line reader on in.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		out:   out,
		now:   time.Now,
		want:  make(chan struct{}),
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.read(in)
	return c
}

func (c *Console) read(in io.Reader) {
	defer close(c.lines)
	scanner := bufio.NewScanner(in)
	for {
		select {
		case <-c.done:
			return
		case <-c.want:
		}
		if !scanner.Scan() {
			return
		}
		select {
		case c.lines <- scanner.Text():
		case <-c.done:
			return
		}
	}
}

// Close stops the line reader. A read already blocked on input ends once
// that input arrives.
func (c *Console) Close() {
	c.stop.Do(func() { close(c.done) })
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// =========================================================================
// VIEW
// =========================================================================

// Render prints the screen and the commands available on it.
func (c *Console) Render(st app.State) {
	var b strings.Builder

	switch st.Screen {
	case router.Welcome:
		b.WriteString("\n== Framez ==\nShare your moments.\n")
	case router.SignUp:
		b.WriteString("\n== Create account ==\n")
	case router.SignIn:
		b.WriteString("\n== Sign in ==\n")
	case router.Home:
		fmt.Fprintf(&b, "\n== Framez | %s ==\n", st.Tab)
		c.renderHome(&b, st)
	}
	fmt.Fprintf(&b, "commands: %s\n", strings.Join(commandsFor(st.Screen), ", "))

	c.printf("%s", b.String())
}

func (c *Console) renderHome(b *strings.Builder, st app.State) {
	switch st.Tab {
	case router.Feed:
		if len(st.Feed) == 0 {
			b.WriteString("No posts yet.\n")
		}
		for _, p := range st.Feed {
			c.renderPost(b, p)
		}
	case router.Post:
		b.WriteString("Type \"post\" to share a photo.\n")
	case router.Profile:
		if st.Session == nil {
			return
		}
		user := st.Session.User
		avatar := service.AvatarURL(user)
		if avatar == "" {
			avatar = "[" + service.Initials(user) + "]"
		}
		fmt.Fprintf(b, "%s  %s\n%s\n%d posts\n", avatar, service.DisplayName(user), user.Email, len(st.Profile))
		for _, p := range st.Profile {
			c.renderPost(b, p)
		}
	}
}

func (c *Console) renderPost(b *strings.Builder, p model.Post) {
	fmt.Fprintf(b, "\n* %s  (%s)\n  %s\n", p.Title, service.TimeAgo(p.CreatedAt, c.now()), p.Description)
	if p.ImageURL != nil && *p.ImageURL != "" {
		fmt.Fprintf(b, "  %s\n", *p.ImageURL)
	}
	fmt.Fprintf(b, "  %d likes, %d comments\n", p.LikesCount, p.CommentsCount)
}

// ShowNotice prints a notice as a boxed alert.
func (c *Console) ShowNotice(n service.Notice) {
	marker := "i"
	switch n.Kind {
	case service.NoticeError:
		marker = "!"
	case service.NoticeSuccess:
		marker = "+"
	}
	c.printf("\n[%s] %s\n    %s\n", marker, n.Title, strings.ReplaceAll(n.Message, "\n", "\n    "))
}

func commandsFor(s router.Screen) []string {
	switch s {
	case router.Welcome:
		return []string{"start", "quit"}
	case router.SignUp:
		return []string{"signup", "signin", "oauth [provider]", "cancel", "quit"}
	case router.SignIn:
		return []string{"login", "signup", "oauth [provider]", "cancel", "quit"}
	default:
		return []string{"feed", "post", "profile", "refresh", "logout", "quit"}
	}
}

// =========================================================================
// COMMANDS
// =========================================================================

// Run reads commands until the input ends, ctx is done or the user quits.
// The console is closed when it returns.
func (c *Console) Run(ctx context.Context, a Actions) error {
	defer c.Close()
	for {
		line, err := c.next(ctx)
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := c.dispatch(ctx, a, fields[0], fields[1:]); err != nil {
			return err
		}
	}
}

func (c *Console) next(ctx context.Context) (string, error) {
	if !c.pending {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.done:
			return "", io.EOF
		case c.want <- struct{}{}:
			c.pending = true
		case line, ok := <-c.lines:
			// only reachable once the reader has exited
			if !ok {
				return "", io.EOF
			}
			return line, nil
		}
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		c.pending = false
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// prompt asks for one form field.
func (c *Console) prompt(ctx context.Context, label string) (string, error) {
	c.printf("%s: ", label)
	return c.next(ctx)
}

// promptPassword asks for a secret field, without echo when a
// PasswordReader is set.
func (c *Console) promptPassword(ctx context.Context, label string) (string, error) {
	if c.readPassword == nil || c.pending {
		return c.prompt(ctx, label)
	}
	c.printf("%s: ", label)

	type result struct {
		value string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := c.readPassword()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		c.printf("\n")
		if r.err != nil {
			return "", fmt.Errorf("console: reading %s: %w", label, r.err)
		}
		return r.value, nil
	}
}

func (c *Console) dispatch(ctx context.Context, a Actions, cmd string, args []string) error {
	if cmd == "quit" || cmd == "exit" {
		return ErrQuit
	}
	if cmd == "help" {
		c.printf("commands: %s\n", strings.Join(commandsFor(a.Screen()), ", "))
		return nil
	}

	screen := a.Screen()
	switch {
	case screen == router.Welcome && cmd == "start":
		a.GetStarted()
	case screen == router.SignUp && cmd == "signin":
		a.ToSignIn()
	case screen == router.SignIn && cmd == "signup":
		a.ToSignUp()
	case screen == router.SignUp && cmd == "signup":
		form, err := c.signUpForm(ctx)
		if err != nil {
			return err
		}
		a.SignUp(form)
	case screen == router.SignIn && cmd == "login":
		form, err := c.signInForm(ctx)
		if err != nil {
			return err
		}
		a.SignIn(form)
	case (screen == router.SignUp || screen == router.SignIn) && cmd == "oauth":
		providerName := ""
		if len(args) > 0 {
			providerName = args[0]
		}
		c.printf("Opening your browser. Type \"cancel\" to give up.\n")
		a.SignInWithOAuth(providerName)
	case cmd == "cancel":
		a.CancelOAuth()
	case screen == router.Home && cmd == "logout":
		a.SignOut()
	case screen == router.Home && cmd == "refresh":
		a.LoadFeed()
	case screen == router.Home && cmd == "feed":
		a.SelectTab(router.Feed)
	case screen == router.Home && cmd == "profile":
		a.SelectTab(router.Profile)
	case screen == router.Home && cmd == "post":
		a.SelectTab(router.Post)
		form, err := c.postForm(ctx)
		if err != nil {
			return err
		}
		a.CreatePost(form)
	default:
		c.printf("unknown command %q here. Type \"help\".\n", cmd)
	}
	return nil
}

func (c *Console) signUpForm(ctx context.Context) (service.SignUpForm, error) {
	var f service.SignUpForm
	var err error
	if f.Username, err = c.prompt(ctx, "username"); err != nil {
		return f, err
	}
	if f.Email, err = c.prompt(ctx, "email"); err != nil {
		return f, err
	}
	if f.Password, err = c.promptPassword(ctx, "password"); err != nil {
		return f, err
	}
	f.Confirm, err = c.promptPassword(ctx, "confirm password")
	return f, err
}

func (c *Console) signInForm(ctx context.Context) (service.SignInForm, error) {
	var f service.SignInForm
	var err error
	if f.Email, err = c.prompt(ctx, "email"); err != nil {
		return f, err
	}
	f.Password, err = c.promptPassword(ctx, "password")
	return f, err
}

func (c *Console) postForm(ctx context.Context) (service.PostForm, error) {
	var f service.PostForm
	var err error
	if f.Title, err = c.prompt(ctx, "title"); err != nil {
		return f, err
	}
	if f.Description, err = c.prompt(ctx, "description"); err != nil {
		return f, err
	}
	f.ImagePath, err = c.prompt(ctx, "image file")
	return f, err
}
