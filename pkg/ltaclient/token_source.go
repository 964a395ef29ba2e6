package ltaclient

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

const tokenFetchAttempts = 5

// TokenSource acquires and refreshes bearer tokens through the OIDC
// client-credentials grant. Tokens are cached and refreshed at half life so
// a long tape operation never ends with an expired token in hand.
type TokenSource struct {
	openIDURL    string
	clientID     string
	clientSecret string
	rc           *resty.Client

	mu            sync.Mutex
	token         string
	refreshAfter  time.Time
	tokenEndpoint string
}

func NewTokenSource(openIDURL, clientID, clientSecret string) *TokenSource {
	return &TokenSource{
		openIDURL:    openIDURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		rc:           resty.New(),
	}
}

// Token returns a bearer token, fetching or refreshing as needed.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.refreshAfter) {
		return ts.token, nil
	}

	if err := ts.fetchToken(ctx); err != nil {
		return "", err
	}

	return ts.token, nil
}

// Invalidate drops the cached token; callers use this after a 401 so the
// next request fetches a fresh one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.refreshAfter = time.Time{}
}

func (ts *TokenSource) fetchToken(ctx context.Context) error {
	if ts.tokenEndpoint == "" {
		if err := ts.discoverTokenEndpoint(ctx); err != nil {
			return err
		}
	}

	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: true}

	var lastErr error
	for attempt := 0; attempt < tokenFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}

		resp, err := ts.rc.R().SetContext(ctx).
			SetFormData(map[string]string{
				"grant_type":    "client_credentials",
				"client_id":     ts.clientID,
				"client_secret": ts.clientSecret,
			}).
			SetResult(&body).
			Post(ts.tokenEndpoint)
		if err != nil {
			lastErr = errors.Wrap(err, "token request")
			log.Warnf("token fetch failed (attempt %d): %s", attempt+1, lastErr)
			continue
		}
		if resp.IsError() {
			lastErr = errors.Errorf("token endpoint returned %d: %s", resp.StatusCode(), resp.String())
			if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
				// bad credentials will not improve with retries
				return lastErr
			}
			log.Warnf("token fetch failed (attempt %d): %s", attempt+1, lastErr)
			continue
		}
		if body.AccessToken == "" {
			return errors.New("token endpoint returned no access_token")
		}

		ts.token = body.AccessToken
		lifetime := time.Duration(body.ExpiresIn) * time.Second
		if lifetime <= 0 {
			lifetime = 10 * time.Minute
		}
		ts.refreshAfter = time.Now().Add(lifetime / 2)
		return nil
	}

	return lastErr
}

func (ts *TokenSource) discoverTokenEndpoint(ctx context.Context) error {
	var discovery struct {
		TokenEndpoint string `json:"token_endpoint"`
	}

	resp, err := ts.rc.R().SetContext(ctx).
		SetResult(&discovery).
		Get(ts.openIDURL + "/.well-known/openid-configuration")
	if err != nil {
		return errors.Wrap(err, "openid discovery")
	}
	if resp.IsError() {
		return errors.Errorf("openid discovery returned %d", resp.StatusCode())
	}
	if discovery.TokenEndpoint == "" {
		return errors.New("openid discovery returned no token_endpoint")
	}

	ts.tokenEndpoint = discovery.TokenEndpoint
	return nil
}
