package completion

import (
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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultGrace is how long before expiry a token is refreshed.
	DefaultGrace = 30 * time.Second
	// fallbackTTL applies when the token endpoint reports no expiry.
	fallbackTTL = 30 * time.Minute
	maxBody     = 1 << 20
)

// TokenConfig configures a TokenCache.
type TokenConfig struct {
	AuthURL string
	// AuthKey is the base64 client credential sent as Basic authorization.
	AuthKey string
	Scope   string
	// Static bypasses the token endpoint entirely.
	Static     string
	Grace      time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// TokenCache holds one access token and refreshes it before expiry.
// Concurrent refreshes are coalesced into a single request.
type TokenCache struct {
	cfg     TokenConfig
	now     func() time.Time
	rqUID   func() string
	log     *slog.Logger
	group   singleflight.Group
	fetches atomic.Int64

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewTokenCache creates an empty cache.
func NewTokenCache(cfg TokenConfig) *TokenCache {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &TokenCache{cfg: cfg, now: time.Now, rqUID: uuid.NewString, log: log}
}

// Token returns a valid access token, refreshing it when it is missing or
// within the grace window of its expiry.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if c.cfg.Static != "" {
		return c.cfg.Static, nil
	}
	if tok, fresh := c.cached(); fresh {
		return tok, nil
	}

	// The shared refresh outlives any single caller; the HTTP client timeout bounds it.
	ch := c.group.DoChan("token", func() (any, error) {
		if tok, fresh := c.cached(); fresh {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if tok, ok := c.stillValid(); ok {
				c.log.Warn("token refresh failed, using current token", "err", res.Err)
				return tok, nil
			}
			return "", asAuth(res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// asAuth marks any failure to obtain a token as ErrAuth.
func asAuth(err error) error {
	if errors.Is(err, ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAuth, err)
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token, c.expiry = "", time.Time{}
	c.mu.Unlock()
}

// Fetches reports how many token requests were sent.
func (c *TokenCache) Fetches() int64 { return c.fetches.Load() }

// Expiry returns the expiry of the cached token, zero when empty.
func (c *TokenCache) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.now().Add(c.cfg.Grace).Before(c.expiry) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) stillValid() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.now().Before(c.expiry) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) store(token string, expiry time.Time) {
	c.mu.Lock()
	c.token, c.expiry = token, expiry
	c.mu.Unlock()
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	if c.cfg.AuthKey == "" {
		return "", fmt.Errorf("completion: token: no credentials configured: %w", ErrAuth)
	}
	c.fetches.Add(1)

	form := url.Values{"scope": {c.cfg.Scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("completion: token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+c.cfg.AuthKey)
	req.Header.Set("RqUID", c.rqUID())

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("completion: token: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{Op: "token", Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("completion: token: decode: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("completion: token: empty access token: %w", ErrAuth)
	}

	now := c.now()
	expiry := now.Add(fallbackTTL)
	switch {
	case tr.ExpiresIn > 0:
		expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	case tr.ExpiresAt > 0:
		expiry = time.UnixMilli(tr.ExpiresAt)
	}
	c.store(tr.AccessToken, expiry)
	c.log.Debug("access token refreshed", "expires_at", expiry)
	return tr.AccessToken, nil
}
