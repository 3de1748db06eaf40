package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"classcast-backend/pkg/observability"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoToken means no credentials are held; requests go out unauthenticated.
	ErrNoToken = errors.New("no access token")
	// ErrNoRefreshToken means a refresh was requested without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrTokensCleared means the session was cleared while a refresh was in flight.
	ErrTokensCleared = errors.New("tokens cleared during refresh")
)

// TokenPair is the credential set held by a TokenManager.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return f(ctx, refreshToken)
}

// TokenManager holds the session credentials. Concurrent refreshes are
// coalesced into a single call to the Refresher.
type TokenManager struct {
	refresher Refresher
	skew      time.Duration
	now       func() time.Time
	logger    *zap.Logger
	metrics   *observability.Collector

	group   singleflight.Group
	current atomic.Pointer[TokenPair]
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithRefreshSkew refreshes tokens d before they expire.
func WithRefreshSkew(d time.Duration) TokenOption {
	return func(m *TokenManager) { m.skew = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l *zap.Logger) TokenOption {
	return func(m *TokenManager) { m.logger = l }
}

// WithTokenMetrics records refresh outcomes on collector.
func WithTokenMetrics(collector *observability.Collector) TokenOption {
	return func(m *TokenManager) { m.metrics = collector }
}

// NewTokenManager creates a manager with no tokens.
func NewTokenManager(refresher Refresher, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		refresher: refresher,
		skew:      5 * time.Second,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTokens stores a new pair, typically after sign-in. A zero ExpiresAt is
// read from the access token's exp claim when it is a JWT.
func (m *TokenManager) SetTokens(pair TokenPair) {
	if pair.ExpiresAt.IsZero() {
		pair.ExpiresAt = jwtExpiry(pair.AccessToken)
	}
	m.current.Store(&pair)
}

// Tokens returns a copy of the current pair.
func (m *TokenManager) Tokens() (TokenPair, bool) {
	p := m.current.Load()
	if p == nil {
		return TokenPair{}, false
	}
	return *p, true
}

// Clear drops the session. A refresh already in flight will not restore it.
func (m *TokenManager) Clear() {
	m.current.Store(nil)
}

// AccessToken returns a usable access token, refreshing first when the
// current one expires within the skew window.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	p := m.current.Load()
	if p == nil || p.AccessToken == "" {
		return "", ErrNoToken
	}
	if p.ExpiresAt.IsZero() || m.now().Before(p.ExpiresAt.Add(-m.skew)) || p.RefreshToken == "" {
		return p.AccessToken, nil
	}

	if err := m.Refresh(ctx); err != nil {
		return "", err
	}
	p = m.current.Load()
	if p == nil {
		return "", ErrNoToken
	}
	return p.AccessToken, nil
}

// Refresh forces a refresh. Callers arriving while one is in flight wait for
// it instead of starting another.
func (m *TokenManager) Refresh(ctx context.Context) error {
	if p := m.current.Load(); p == nil || p.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	ch := m.group.DoChan("refresh", func() (any, error) {
		return nil, m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *TokenManager) refresh(ctx context.Context) error {
	old := m.current.Load()
	if old == nil || old.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	next, err := m.refresher.Refresh(ctx, old.RefreshToken)
	m.metrics.RecordTokenRefresh(err)
	if err != nil {
		m.logger.Warn("Token refresh failed", zap.Error(err))
		return fmt.Errorf("refresh token: %w", err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = old.RefreshToken
	}
	if next.ExpiresAt.IsZero() {
		next.ExpiresAt = jwtExpiry(next.AccessToken)
	}

	if !m.current.CompareAndSwap(old, &next) {
		return ErrTokensCleared
	}
	m.logger.Debug("Access token refreshed", zap.Time("expires_at", next.ExpiresAt))
	return nil
}

// jwtExpiry reads the exp claim without verifying the signature. Opaque
// tokens yield the zero time, which disables proactive refresh.
func jwtExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// HTTPRefresher posts the refresh token as JSON to Endpoint.
type HTTPRefresher struct {
	Endpoint string
	Doer     Doer
	now      func() time.Time
}

// NewHTTPRefresher creates a refresher for endpoint. A nil doer uses http.DefaultClient.
func NewHTTPRefresher(endpoint string, doer Doer) *HTTPRefresher {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &HTTPRefresher{Endpoint: endpoint, Doer: doer, now: time.Now}
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return TokenPair{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.Doer.Do(req)
	if err != nil {
		return TokenPair{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenPair{}, &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TokenPair{}, newAPIError(resp.StatusCode, body)
	}

	var out refreshResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return TokenPair{}, &APIError{Status: resp.StatusCode, Code: "invalid_response", Message: err.Error()}
	}
	if out.AccessToken == "" {
		return TokenPair{}, &APIError{Status: resp.StatusCode, Code: "invalid_response", Message: "refresh response has no access token"}
	}

	pair := TokenPair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if out.ExpiresIn > 0 {
		now := time.Now
		if r.now != nil {
			now = r.now
		}
		pair.ExpiresAt = now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return pair, nil
}
