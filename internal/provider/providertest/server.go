// Package providertest runs an in-memory backend that speaks the subset of
// the Supabase HTTP API the client uses, for tests in other packages.
//
//	srv := providertest.NewServer(t)
//	client, _ := provider.New(provider.Options{URL: srv.URL, AnonKey: srv.AnonKey})
//
// It is a test double, not a backend: data lives in maps, passwords are
// hashed at bcrypt's minimum cost, and everything vanishes with the test.
package providertest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sakif/framez/internal/middleware"
	"github.com/sakif/framez/internal/model"
)

// AnonKey is the only apikey the fake accepts.
const AnonKey = "providertest-anon-key"

type account struct {
	user         model.User
	passwordHash string
}

// Server is the fake backend. Exported fields may be changed between calls.
type Server struct {
	*httptest.Server
	AnonKey string

	// AutoConfirm makes sign-up return a session right away.
	AutoConfirm bool
	// TokenTTL is the access-token lifetime. Default one hour.
	TokenTTL time.Duration
	// OAuthUser is who /auth/v1/authorize signs in. Nil makes authorize
	// redirect back with error=access_denied, like a user who cancelled.
	OAuthUser *model.User
	// InsertFailure, when set, makes every post insert fail with it.
	InsertFailure *PostgrestError

	tokens *tokenService

	mu       sync.Mutex
	accounts map[string]*account // by email
	byID     map[string]*account
	refresh  map[string]string // refresh token -> user id
	posts    []model.Post
	objects  map[string][]byte // "bucket/path" -> bytes
	calls    map[string]int    // "METHOD /path" -> count
}

// PostgrestError is the record-store error InsertFailure answers with.
type PostgrestError struct {
	Status  int
	Code    string
	Message string
	Details string
}

// NewServer starts a fake backend and stops it when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	tokens, err := newTokenService("providertest-signing-secret")
	if err != nil {
		t.Fatalf("providertest: %v", err)
	}

	s := &Server{
		AnonKey:  AnonKey,
		TokenTTL: time.Hour,
		tokens:   tokens,
		accounts: make(map[string]*account),
		byID:     make(map[string]*account),
		refresh:  make(map[string]string),
		objects:  make(map[string][]byte),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.Use(s.countCalls)

	// The browser leg of OAuth carries no apikey.
	r.Get("/auth/v1/authorize", s.handleAuthorize)
	r.Get("/storage/v1/object/public/{bucket}/*", s.handlePublicObject)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Post("/auth/v1/signup", s.handleSignUp)
		r.Post("/auth/v1/token", s.handleToken)
		r.Get("/auth/v1/user", s.handleUser)
		r.Post("/auth/v1/logout", s.handleLogout)

		r.Post("/storage/v1/object/{bucket}/*", s.handleUpload)
		r.Delete("/storage/v1/object/{bucket}", s.handleRemove)

		r.Post("/rest/v1/posts", s.handleInsertPost)
		r.Get("/rest/v1/posts", s.handleListPosts)
	})
	return r
}

// Calls reports how many requests hit "METHOD /path" (query excluded).
func (s *Server) Calls(methodAndPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[methodAndPath]
}

// TotalCalls reports how many requests the server received.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// CreateUser registers a confirmed account directly.
func (s *Server) CreateUser(email, password string, metadata map[string]any) model.User {
	hash, err := hashPassword(password)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAccountLocked(email, hash, metadata).user
}

// IssueTokens mints an access/refresh pair for an existing user, the way
// the OAuth redirect would. ttl may be negative for an expired access token.
func (s *Server) IssueTokens(userID string, ttl time.Duration) (accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.byID[userID]
	if acct == nil {
		panic("providertest: unknown user " + userID)
	}
	access, _, err := s.tokens.generate(userID, acct.user.Email, ttl)
	if err != nil {
		panic(err)
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = userID
	return access, refresh
}

// RevokeAll invalidates every refresh token, as a sign-out on another device would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// Object returns the stored bytes of bucket/path.
func (s *Server) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+path]
	return b, ok
}

// ObjectCount reports how many objects are stored.
func (s *Server) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Posts returns a copy of all stored posts in insertion order.
func (s *Server) Posts() []model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Post(nil), s.posts...)
}

// AddPost stores a post directly, bypassing auth.
func (s *Server) AddPost(p model.Post) model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	s.posts = append(s.posts, p)
	return p
}

func (s *Server) addAccountLocked(email, hash string, metadata map[string]any) *account {
	if metadata == nil {
		metadata = map[string]any{}
	}
	acct := &account{
		user: model.User{
			ID:        uuid.NewString(),
			Email:     email,
			Metadata:  metadata,
			CreatedAt: time.Now().UTC(),
		},
		passwordHash: hash,
	}
	s.accounts[strings.ToLower(email)] = acct
	s.byID[acct.user.ID] = acct
	return acct
}

// =========================================================================
// MIDDLEWARE
// =========================================================================

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != s.AnonKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerUser resolves the Authorization header to a user id. The anon key
// resolves to "" with ok=true (anonymous caller).
func (s *Server) bearerUser(r *http.Request) (userID string, ok bool) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return "", false
	}
	if token == s.AnonKey {
		return "", true
	}
	id, err := s.tokens.validate(token)
	if err != nil {
		return "", false
	}
	return id, true
}

// =========================================================================
// AUTH
// =========================================================================

type sessionBody struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         model.User `json:"user"`
}

func (s *Server) issueSessionLocked(acct *account) (sessionBody, error) {
	access, exp, err := s.tokens.generate(acct.user.ID, acct.user.Email, s.TokenTTL)
	if err != nil {
		return sessionBody{}, err
	}
	refresh := uuid.NewString()
	s.refresh[refresh] = acct.user.ID
	return sessionBody{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.TokenTTL / time.Second),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         acct.user,
	}, nil
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "Signup requires a valid password")
		return
	}
	if len(body.Password) < 6 {
		writeAuthError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters.")
		return
	}

	hash, err := hashPassword(body.Password)
	if err != nil {
		writeAuthError(w, http.StatusUnprocessableEntity, "weak_password", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[strings.ToLower(body.Email)]; exists {
		writeAuthError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}
	acct := s.addAccountLocked(body.Email, hash, body.Data)

	if !s.AutoConfirm {
		writeJSON(w, http.StatusOK, acct.user)
		return
	}

	session, err := s.issueSessionLocked(acct)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var acct *account
	switch r.URL.Query().Get("grant_type") {
	case "password":
		acct = s.accounts[strings.ToLower(body.Email)]
		if acct == nil || !checkPassword(acct.passwordHash, body.Password) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
	case "refresh_token":
		userID, ok := s.refresh[body.RefreshToken]
		if !ok {
			writeAuthError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		// Refresh tokens are single use.
		delete(s.refresh, body.RefreshToken)
		acct = s.byID[userID]
	default:
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "unsupported_grant_type")
		return
	}

	session, err := s.issueSessionLocked(acct)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.bearerUser(r)
	if !ok || userID == "" {
		writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
		return
	}

	s.mu.Lock()
	acct := s.byID[userID]
	s.mu.Unlock()
	if acct == nil {
		writeAuthError(w, http.StatusNotFound, "user_not_found", "User not found")
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.bearerUser(r)
	if !ok || userID == "" {
		writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}

	s.mu.Lock()
	for token, id := range s.refresh {
		if id == userID {
			delete(s.refresh, token)
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// handleAuthorize plays both the backend and the identity provider: it
// signs OAuthUser in (creating the account on first use) and redirects to
// redirect_to with the tokens as query parameters.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirectTo, err := url.Parse(r.URL.Query().Get("redirect_to"))
	if err != nil || redirectTo.String() == "" || r.URL.Query().Get("provider") == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "provider and redirect_to are required")
		return
	}

	q := redirectTo.Query()
	s.mu.Lock()
	if s.OAuthUser == nil {
		s.mu.Unlock()
		q.Set("error", "access_denied")
		q.Set("error_description", "The user denied the request")
		redirectTo.RawQuery = q.Encode()
		http.Redirect(w, r, redirectTo.String(), http.StatusFound)
		return
	}

	acct := s.accounts[strings.ToLower(s.OAuthUser.Email)]
	if acct == nil {
		acct = s.addAccountLocked(s.OAuthUser.Email, "", s.OAuthUser.Metadata)
	}
	session, err := s.issueSessionLocked(acct)
	s.mu.Unlock()
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", err.Error())
		return
	}

	q.Set("access_token", session.AccessToken)
	q.Set("refresh_token", session.RefreshToken)
	q.Set("expires_in", "3600")
	q.Set("token_type", "bearer")
	redirectTo.RawQuery = q.Encode()
	http.Redirect(w, r, redirectTo.String(), http.StatusFound)
}

// =========================================================================
// STORAGE
// =========================================================================

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.bearerUser(r)
	if !ok || userID == "" {
		writeStorageError(w, http.StatusUnauthorized, "Unauthorized", "new row violates row-level security policy")
		return
	}

	key := chi.URLParam(r, "bucket") + "/" + chi.URLParam(r, "*")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeStorageError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		writeStorageError(w, http.StatusConflict, "Duplicate", "The resource already exists")
		return
	}
	s.objects[key] = data
	writeJSON(w, http.StatusOK, map[string]string{"Key": key})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if userID, ok := s.bearerUser(r); !ok || userID == "" {
		writeStorageError(w, http.StatusUnauthorized, "Unauthorized", "Invalid JWT")
		return
	}

	var body struct {
		Prefixes []string `json:"prefixes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeStorageError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	bucket := chi.URLParam(r, "bucket")
	s.mu.Lock()
	removed := []map[string]string{}
	for _, p := range body.Prefixes {
		key := bucket + "/" + p
		if _, ok := s.objects[key]; ok {
			delete(s.objects, key)
			removed = append(removed, map[string]string{"name": p})
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	data, ok := s.Object(chi.URLParam(r, "bucket"), chi.URLParam(r, "*"))
	if !ok {
		writeStorageError(w, http.StatusNotFound, "not_found", "Object not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

// =========================================================================
// RECORDS
// =========================================================================

func (s *Server) handleInsertPost(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.bearerUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, restError{Code: "PGRST301", Message: "JWT expired"})
		return
	}

	if f := s.InsertFailure; f != nil {
		writeJSON(w, f.Status, restError{Code: f.Code, Message: f.Message, Details: f.Details})
		return
	}

	var rows []model.NewPost
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeJSON(w, http.StatusBadRequest, restError{Code: "PGRST102", Message: "Empty or invalid json"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]model.Post, 0, len(rows))
	for _, row := range rows {
		if row.UserID != userID {
			writeJSON(w, http.StatusForbidden, restError{
				Code:    "42501",
				Message: `new row violates row-level security policy for table "posts"`,
			})
			return
		}
		now := time.Now().UTC()
		var image *string
		if row.ImageURL != "" {
			img := row.ImageURL
			image = &img
		}
		p := model.Post{
			ID:          uuid.NewString(),
			UserID:      row.UserID,
			Title:       row.Title,
			Description: row.Description,
			ImageURL:    image,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.posts = append(s.posts, p)
		inserted = append(inserted, p)
	}

	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		writeJSON(w, http.StatusCreated, inserted)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.bearerUser(r); !ok {
		writeJSON(w, http.StatusUnauthorized, restError{Code: "PGRST301", Message: "JWT expired"})
		return
	}

	filter, _ := strings.CutPrefix(r.URL.Query().Get("user_id"), "eq.")

	s.mu.Lock()
	out := make([]model.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if filter == "" || p.UserID == filter {
			out = append(out, p)
		}
	}
	s.mu.Unlock()

	if r.URL.Query().Get("order") == "created_at.desc" {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	writeJSON(w, http.StatusOK, out)
}
