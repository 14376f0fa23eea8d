package quote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// TokenCache acquires and caches the primary provider's crumb/cookie
// pair. The provider hands out a session cookie on its consent page and
// exchanges it for a crumb on a dedicated endpoint; both are required
// for authenticated chart requests and expire server-side after a
// while, so cached pairs older than the freshness window are discarded.
//
// Concurrent refreshes are allowed to race: the pair is replaced
// wholesale under the lock, so a losing refresher just overwrites with
// an equally fresh token.
type TokenCache struct {
	client     *resty.Client
	consentURL string
	crumbURL   string
	ttl        time.Duration
	now        func() time.Time

	mu        sync.Mutex
	crumb     string
	cookie    string
	fetchedAt time.Time
}

// NewTokenCache creates a token cache against the given consent and
// crumb endpoints. ttl is the freshness window; pairs older than that
// are re-acquired on the next Token call.
func NewTokenCache(consentURL, crumbURL string, ttl time.Duration) *TokenCache {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("User-Agent", browserUserAgent)
	return &TokenCache{
		client:     client,
		consentURL: consentURL,
		crumbURL:   crumbURL,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Token returns a crumb/cookie pair no older than the freshness
// window, acquiring a fresh one when needed. On acquisition failure
// nothing is cached and the error is returned; callers should proceed
// unauthenticated and only insist on a token after an explicit 401/403.
func (t *TokenCache) Token(ctx context.Context) (crumb, cookie string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.crumb != "" && t.now().Sub(t.fetchedAt) < t.ttl {
		return t.crumb, t.cookie, nil
	}

	crumb, cookie, err = t.acquire(ctx)
	if err != nil {
		return "", "", err
	}
	t.crumb = crumb
	t.cookie = cookie
	t.fetchedAt = t.now()
	log.Debug().Msg("session token refreshed")
	return crumb, cookie, nil
}

// Invalidate drops the cached pair. Called on 401/403 from the
// provider regardless of the pair's age.
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.crumb = ""
	t.cookie = ""
}

func (t *TokenCache) acquire(ctx context.Context) (string, string, error) {
	// Step 1: the consent endpoint sets the session cookie. Its status
	// code is unreliable (404s while still setting cookies), so only
	// the cookies matter.
	resp, err := t.client.R().SetContext(ctx).Get(t.consentURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: consent request: %v", ErrAuth, err)
	}
	var parts []string
	for _, c := range resp.Cookies() {
		parts = append(parts, c.Name+"="+c.Value)
	}
	if len(parts) == 0 {
		return "", "", fmt.Errorf("%w: consent endpoint set no cookies", ErrAuth)
	}
	cookie := strings.Join(parts, "; ")

	// Step 2: exchange the cookie for a crumb. The body is the crumb
	// itself in plain text; an HTML body means an error page.
	resp, err = t.client.R().SetContext(ctx).
		SetHeader("Cookie", cookie).
		Get(t.crumbURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: crumb request: %v", ErrAuth, err)
	}
	if !resp.IsSuccess() {
		return "", "", fmt.Errorf("%w: crumb endpoint status %d", ErrAuth, resp.StatusCode())
	}
	crumb := strings.TrimSpace(string(resp.Body()))
	if crumb == "" || strings.Contains(strings.ToLower(crumb), "<html") {
		return "", "", fmt.Errorf("%w: crumb endpoint returned no usable crumb", ErrAuth)
	}
	return crumb, cookie, nil
}
