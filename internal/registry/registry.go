// Package registry implements the MonitorRegistry: a process-wide
// {username -> session} map created on first authenticated login and kept
// warm for the session's lifetime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmagro/querywatch/internal/clock"
	"github.com/dmagro/querywatch/internal/fetch"
	"github.com/dmagro/querywatch/internal/monitor"
)

// ErrAuthFailure reports invalid credentials or an invalid token, surfaced
// by the transport layer as spec.md §7's AuthFailure.
var ErrAuthFailure = errors.New("authentication failure")

// Authenticator verifies a username/password pair against an external
// credential store. Registration (the original's register_new_user) is
// explicitly out of scope here, same as in the system this was distilled
// from; Authenticator only verifies already-provisioned accounts.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// StaticAuthenticator is an in-memory Authenticator stub, good enough to
// exercise login end to end without a real credential store.
type StaticAuthenticator struct {
	mu        sync.RWMutex
	passwords map[string]string
}

// NewStaticAuthenticator builds an Authenticator from a fixed
// username->password map.
func NewStaticAuthenticator(credentials map[string]string) *StaticAuthenticator {
	cp := make(map[string]string, len(credentials))
	for u, p := range credentials {
		cp[u] = p
	}
	return &StaticAuthenticator{passwords: cp}
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, username, password string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	want, ok := a.passwords[username]
	return ok && want == password, nil
}

// session holds one logged-in user's live state: their Monitor, issued
// token, and last-active timestamp.
type session struct {
	username   string
	monitor    *monitor.Monitor
	token      string
	lastActive time.Time
}

// Registry is the process-wide username -> session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	auth    Authenticator
	storage monitor.Storage
	fetcher *fetch.Fetcher
	clock   clock.Clock

	jwtSecret       []byte
	minInterval     int
	scanConcurrency int
	captchaKeywords []string

	log *slog.Logger
}

// Config parameterizes a Registry.
type Config struct {
	Authenticator   Authenticator
	Storage         monitor.Storage
	Fetcher         *fetch.Fetcher
	Clock           clock.Clock
	JWTSecret       []byte
	MinInterval     int
	ScanConcurrency int
	CaptchaKeywords []string
	Logger          *slog.Logger
}

// New builds an empty Registry.
func New(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		sessions:        make(map[string]*session),
		auth:            cfg.Authenticator,
		storage:         cfg.Storage,
		fetcher:         cfg.Fetcher,
		clock:           cfg.Clock,
		jwtSecret:       cfg.JWTSecret,
		minInterval:     cfg.MinInterval,
		scanConcurrency: cfg.ScanConcurrency,
		captchaKeywords: append([]string(nil), cfg.CaptchaKeywords...),
		log:             cfg.Logger,
	}
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Login authenticates (username, password). If no session exists for this
// user, a fresh token is generated and a new Monitor is created and
// populated from storage; otherwise the existing token is returned. The
// session map is mutated only here, under the write lock, so readers never
// observe a partially constructed session (spec.md §5 "Shared resources").
func (r *Registry) Login(ctx context.Context, username, password string) (token string, err error) {
	if r.auth == nil {
		return "", fmt.Errorf("registry: %w: no authenticator configured", ErrAuthFailure)
	}
	ok, authErr := r.auth.Authenticate(ctx, username, password)
	if authErr != nil {
		return "", fmt.Errorf("registry: %w: %v", ErrAuthFailure, authErr)
	}
	if !ok {
		return "", fmt.Errorf("registry: %w", ErrAuthFailure)
	}

	r.mu.Lock()
	existing, hasSession := r.sessions[username]
	if hasSession {
		existing.lastActive = r.clock.Now()
		tok := existing.token
		r.mu.Unlock()
		return tok, nil
	}
	captchaKeywords := append([]string(nil), r.captchaKeywords...)
	r.mu.Unlock()

	tok, err := r.issueToken(username)
	if err != nil {
		return "", fmt.Errorf("registry: issuing token: %w", err)
	}

	mon := monitor.New(monitor.Config{
		Username:        username,
		Fetcher:         r.fetcher,
		Storage:         r.storage,
		Clock:           r.clock,
		MinInterval:     r.minInterval,
		ScanConcurrency: r.scanConcurrency,
		CaptchaKeywords: captchaKeywords,
	})
	if ok, msg := mon.Populate(ctx); !ok {
		r.log.Warn("populate incomplete on login", "username", username, "msg", msg)
	}

	sess := &session{
		username:   username,
		monitor:    mon,
		token:      tok,
		lastActive: r.clock.Now(),
	}

	r.mu.Lock()
	if existing, already := r.sessions[username]; already {
		r.mu.Unlock()
		return existing.token, nil
	}
	r.sessions[username] = sess
	r.mu.Unlock()

	return tok, nil
}

func (r *Registry) issueToken(username string) (string, error) {
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(r.clock.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(r.jwtSecret)
}

// AuthUser is true iff the session for username has a token equal to
// token; on success last_active advances to now.
func (r *Registry) AuthUser(username, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[username]
	if !ok || sess.token != token {
		return false
	}
	sess.lastActive = r.clock.Now()
	return true
}

// Monitor returns the live Monitor for an authenticated username.
func (r *Registry) Monitor(username string) (*monitor.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[username]
	if !ok {
		return nil, false
	}
	return sess.monitor, true
}

// ReloadConfig fans out refreshed CAPTCHA keywords and the page-dump flag
// to every live session's Monitor, matching spec.md §4.7 and the original
// UserManager.reload_config.
func (r *Registry) ReloadConfig(captchaKeywords []string, dumpEnabled bool) {
	r.mu.Lock()
	r.captchaKeywords = append([]string(nil), captchaKeywords...)
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.monitor.SetCaptchaKeywords(captchaKeywords)
	}
	if r.fetcher != nil {
		r.fetcher.SetDumpEnabled(dumpEnabled)
	}
}

// Housekeep runs until ctx is cancelled, periodically logging each live
// session's last-active timestamp. It performs no mutation today — a
// direct Go counterpart to the original UserManager.run's autosave/idle
// loop, which the original itself leaves as a TODO for idle-session
// eviction; this is the natural home for that work when it's wanted.
func (r *Registry) Housekeep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			for username, sess := range r.sessions {
				r.log.Info("session active", "username", username, "last_active", sess.lastActive)
			}
			r.mu.RUnlock()
		}
	}
}
