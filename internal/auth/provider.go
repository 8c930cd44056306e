package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

const defaultExpiresIn = time.Hour

// listeners is a subscription set with stable notification order.
type listeners struct {
	mu     sync.Mutex
	fns    map[int]func()
	nextID int
}

func (l *listeners) add(fn func()) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) notify() {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// ExpiryFromJWT reads the exp claim of a JWT access token without verifying
// its signature. ok is false for opaque tokens or tokens without exp.
func ExpiryFromJWT(token string) (expiresAt time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// StaticProvider serves a token set by the operator. It never refreshes.
type StaticProvider struct {
	mu        sync.RWMutex
	token     string
	expiring  listeners
	refreshed listeners
}

// NewStaticProvider creates a provider holding token. An empty token means logged out.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

// AccessToken returns the current token.
func (p *StaticProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", core.ErrNoCredentials
	}
	return p.token, nil
}

// SetToken replaces the token and notifies OnTokenRefreshed subscribers when it is non-empty.
func (p *StaticProvider) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	if token != "" {
		p.refreshed.notify()
	}
}

// OnTokenExpiring registers fn. A static token never announces expiry.
func (p *StaticProvider) OnTokenExpiring(fn func()) func() {
	return p.expiring.add(fn)
}

// OnTokenRefreshed registers fn to run after SetToken.
func (p *StaticProvider) OnTokenRefreshed(fn func()) func() {
	return p.refreshed.add(fn)
}

// RefreshingConfig seeds a RefreshingProvider.
type RefreshingConfig struct {
	AccessToken  string
	RefreshToken string

	// ExpiresAt of AccessToken. When zero it is read from the JWT exp claim;
	// an opaque token without a known expiry is treated as valid until invalidated.
	ExpiresAt time.Time

	// RefreshAhead is how long before expiry OnTokenExpiring fires and the
	// token is refreshed.
	RefreshAhead time.Duration
}

// RefreshingProvider keeps an access token fresh using a refresh token.
// OnTokenExpiring subscribers fire RefreshAhead before expiry, then the token
// is refreshed in the background and OnTokenRefreshed subscribers fire.
type RefreshingProvider struct {
	mu           sync.Mutex
	refresher    Refresher
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	refreshAhead time.Duration
	timer        *time.Timer
	running      bool

	expiring  listeners
	refreshed listeners

	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewRefreshingProvider creates a provider. Call Start to schedule proactive refreshes.
func NewRefreshingProvider(refresher Refresher, config RefreshingConfig, logger *zap.SugaredLogger) *RefreshingProvider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	expiresAt := config.ExpiresAt
	if expiresAt.IsZero() && config.AccessToken != "" {
		if exp, ok := ExpiryFromJWT(config.AccessToken); ok {
			expiresAt = exp
		}
	}
	return &RefreshingProvider{
		refresher:    refresher,
		accessToken:  config.AccessToken,
		refreshToken: config.RefreshToken,
		expiresAt:    expiresAt,
		refreshAhead: config.RefreshAhead,
		now:          time.Now,
		logger:       logger,
	}
}

// AccessToken returns a usable token, refreshing synchronously when the
// current one is missing or inside the refresh window. If the refresh fails
// but the old token has not expired yet, the old token is returned.
func (p *RefreshingProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.accessToken
	needsRefresh := token == "" || p.dueLocked()
	expired := token == "" || p.expiredLocked()
	canRefresh := p.refreshToken != ""
	p.mu.Unlock()

	if !needsRefresh {
		return token, nil
	}
	if canRefresh {
		fresh, err := p.Refresh(ctx)
		if err == nil {
			return fresh, nil
		}
		p.logger.Warnw("token refresh failed", "error", err)
	}
	if !expired {
		return token, nil
	}
	return "", fmt.Errorf("%w: access token expired", core.ErrNoCredentials)
}

// Refresh exchanges the refresh token for a new access token.
func (p *RefreshingProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	refreshToken := p.refreshToken
	p.mu.Unlock()

	resp, err := p.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}

	expiresAt := p.now().Add(defaultExpiresIn)
	if resp.ExpiresIn > 0 {
		expiresAt = p.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else if exp, ok := ExpiryFromJWT(resp.AccessToken); ok {
		expiresAt = exp
	}

	p.mu.Lock()
	p.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		p.refreshToken = resp.RefreshToken
	}
	p.expiresAt = expiresAt
	p.scheduleLocked()
	p.mu.Unlock()

	p.logger.Infow("access token refreshed", "expires_at", expiresAt)
	p.refreshed.notify()
	return resp.AccessToken, nil
}

// Invalidate marks the current token unusable so the next AccessToken call
// refreshes it. Used after the remote side answers 401.
func (p *RefreshingProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresAt = p.now()
}

// ExpiresAt returns the expiry of the current token, zero if unknown.
func (p *RefreshingProvider) ExpiresAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expiresAt
}

// OnTokenExpiring registers fn to run RefreshAhead before the token expires.
func (p *RefreshingProvider) OnTokenExpiring(fn func()) func() {
	return p.expiring.add(fn)
}

// OnTokenRefreshed registers fn to run after every successful refresh.
func (p *RefreshingProvider) OnTokenRefreshed(fn func()) func() {
	return p.refreshed.add(fn)
}

// Start schedules the proactive refresh timer.
func (p *RefreshingProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.scheduleLocked()
	return nil
}

// Stop cancels the refresh timer.
func (p *RefreshingProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return nil
}

func (p *RefreshingProvider) scheduleLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if !p.running || p.expiresAt.IsZero() {
		return
	}
	wait := p.expiresAt.Add(-p.refreshAhead).Sub(p.now())
	if wait < 0 {
		wait = 0
	}
	p.timer = time.AfterFunc(wait, p.onExpiring)
}

func (p *RefreshingProvider) onExpiring() {
	p.expiring.notify()

	p.mu.Lock()
	canRefresh := p.refreshToken != "" && p.running
	p.mu.Unlock()
	if !canRefresh {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := p.Refresh(ctx); err != nil {
		p.logger.Warnw("scheduled token refresh failed", "error", err)
	}
}

func (p *RefreshingProvider) dueLocked() bool {
	if p.expiresAt.IsZero() {
		return false
	}
	return !p.now().Before(p.expiresAt.Add(-p.refreshAhead))
}

func (p *RefreshingProvider) expiredLocked() bool {
	if p.expiresAt.IsZero() {
		return false
	}
	return !p.now().Before(p.expiresAt)
}
