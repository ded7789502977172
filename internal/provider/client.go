package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/middleware"
	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/repository"
)

const (
	// DefaultStorageKey names the credential-cache row, after the key the
	// backend's own SDKs use.
	DefaultStorageKey = "sb-auth-token"
	// DefaultRefreshTick is how often the auto-refresher checks expiry.
	DefaultRefreshTick = 30 * time.Second
	// refreshTicksAhead: refresh once the token expires within this many ticks.
	refreshTicksAhead = 3
	// expiryMargin: GetSession refreshes tokens this close to expiry.
	expiryMargin = 10 * time.Second
	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Options configures a Client.
type Options struct {
	URL     string // backend base URL, e.g. https://xyz.supabase.co
	AnonKey string // public anon key sent as "apikey" on every call

	// StorageKey is the credential-cache key. Default DefaultStorageKey.
	StorageKey string
	// Cache persists the session between runs. Nil disables persistence.
	Cache repository.SessionRepository
	// Transport is the base round tripper. Nil means http.DefaultTransport.
	Transport http.RoundTripper
	// RequestsPerSecond limits outgoing calls. Zero or less means unlimited.
	RequestsPerSecond float64
	// RefreshTick is the auto-refresher interval. Default DefaultRefreshTick.
	RefreshTick time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Client talks to the backend over HTTP and owns the SDK-side session.
//
// The session held here is the provider's copy. The app's session.Store
// mirrors it through OnAuthStateChange and never writes to it directly.
type Client struct {
	baseURL    string
	anonKey    string
	storageKey string
	cache      repository.SessionRepository
	transport  http.RoundTripper
	limiter    *rate.Limiter
	tick       time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *model.Session
	loaded  bool // cache consulted

	// emitMu makes a session write and its event one step, so listeners
	// see events in write order.
	emitMu sync.Mutex

	// refreshMu serialises refresh-token grants; a refresh token is single use.
	refreshMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	refresher refresher
}

// New validates opts and returns a Client. It does not touch the network.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("provider: URL is required")
	}
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("provider: invalid URL %q: %w", opts.URL, err)
	}
	if opts.AnonKey == "" {
		return nil, errors.New("provider: anon key is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		anonKey:    opts.AnonKey,
		storageKey: opts.StorageKey,
		cache:      opts.Cache,
		transport:  middleware.Transport(logger, opts.Transport),
		tick:       opts.RefreshTick,
		logger:     logger,
		now:        opts.Now,
		listeners:  make(map[int]Listener),
	}
	if c.storageKey == "" {
		c.storageKey = DefaultStorageKey
	}
	if c.tick <= 0 {
		c.tick = DefaultRefreshTick
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return c, nil
}

// OnAuthStateChange registers fn for every later auth state change.
// The returned function removes it; calling it twice is harmless.
func (c *Client) OnAuthStateChange(fn Listener) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

// emit calls every listener outside of any lock, each with its own copy of the session.
func (c *Client) emit(event Event, session *model.Session) {
	c.listenersMu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	c.logger.Debug("auth state changed", slog.String("event", string(event)))
	for _, fn := range fns {
		fn(event, session.Clone())
	}
}

// currentSession returns the in-memory session without consulting the cache.
func (c *Client) currentSession() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// storeSession replaces the session, persists the change and notifies listeners.
// Listeners run under emitMu and must not call back into storeSession.
// A nil session clears it. Cache failures are logged, never returned: the
// in-memory session is authoritative for this process.
func (c *Client) storeSession(ctx context.Context, session *model.Session, event Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.session = session
	c.loaded = true
	c.mu.Unlock()

	if c.cache != nil {
		var err error
		if session != nil {
			err = c.cache.SaveSession(ctx, c.storageKey, session)
		} else {
			err = c.cache.DeleteSession(ctx, c.storageKey)
		}
		if err != nil {
			c.logger.Warn("credential cache update failed", slog.String("error", err.Error()))
		}
	}

	c.emit(event, session)
}

// bearer is the token to authenticate record-store calls: the user's access
// token when signed in, otherwise the anon key.
func (c *Client) bearer() string {
	if s := c.currentSession(); s != nil {
		return s.AccessToken
	}
	return c.anonKey
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// request describes one backend call.
type request struct {
	method string
	path   string
	query  url.Values
	header http.Header

	json        any       // encoded as the JSON body when non-nil
	body        io.Reader // raw body, used when json is nil
	contentType string

	bearer string // Authorization token; empty means the anon key
	out    any    // decoded from a 2xx JSON response when non-nil
}

// httpClient returns a client whose transport adds "Authorization: Bearer <token>".
//
// oauth2.Transport does the header work: it clones each request and calls
// Token.SetAuthHeader, so the caller's request is never mutated.
func (c *Client) httpClient(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
}

// do performs r. Non-2xx answers become *APIError; failures to get any
// answer become apperror.ErrTransport. No timeout is applied here: callers
// bound calls through ctx.
func (c *Client) do(ctx context.Context, r request) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("provider: waiting for rate limiter: %w", err)
		}
	}

	u := c.endpoint(r.path)
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	body := r.body
	contentType := r.contentType
	if r.json != nil {
		buf, err := json.Marshal(r.json)
		if err != nil {
			return fmt.Errorf("provider: encoding %s %s body: %w", r.method, r.path, err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("provider: building %s %s: %w", r.method, r.path, err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	token := r.bearer
	if token == "" {
		token = c.anonKey
	}

	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("provider: %s %s: %w", r.method, r.path, ctxErr)
		}
		return fmt.Errorf("provider: %s %s: %w", r.method, r.path, apperror.Transport(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return decodeAPIError(resp.StatusCode, raw)
	}

	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("provider: decoding %s %s response: %w", r.method, r.path, err)
	}
	return nil
}
