package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mcdev12/matchday/go/internal/metrics"
	"github.com/mcdev12/matchday/go/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RefreshEndpoint exchanges a refresh token for a new access token.
const RefreshEndpoint = "/auth/refresh"

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Refresher owns the single in-flight token refresh shared by every HTTP
// call and by the push socket handshake.
type Refresher struct {
	refreshURL string
	client     *http.Client
	store      session.Store
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	group singleflight.Group

	hooksMu    sync.Mutex
	onAuthLost []func()
}

func NewRefresher(baseURL string, store session.Store, m *metrics.Metrics) *Refresher {
	return &Refresher{
		refreshURL: baseURL + RefreshEndpoint,
		client:     &http.Client{Timeout: 10 * time.Second},
		store:      store,
		metrics:    m,
		logger:     log.Logger,
	}
}

func (r *Refresher) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// OnAuthLost registers fn to run after a failed refresh cleared the session.
func (r *Refresher) OnAuthLost(fn func()) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onAuthLost = append(r.onAuthLost, fn)
}

// AccessToken returns the stored access token, if any.
func (r *Refresher) AccessToken() (string, bool) {
	s, ok := r.store.Get()
	if !ok || !s.Valid() {
		return "", false
	}
	return s.AccessToken, true
}

// Refresh returns an access token newer than stale. Concurrent callers share
// one refresh call; a caller whose stale token was already replaced gets the
// current one without touching the network.
func (r *Refresher) Refresh(ctx context.Context, stale string) (string, error) {
	if current, ok := r.replaced(stale); ok {
		return current, nil
	}
	if _, ok := r.store.Get(); !ok {
		return "", ErrAuthenticationLost
	}

	// The shared refresh must not fail for everyone when one caller gives up.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan("refresh", func() (any, error) {
		if current, ok := r.replaced(stale); ok {
			return current, nil
		}
		return r.refresh(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Refresher) replaced(stale string) (string, bool) {
	s, ok := r.store.Get()
	if !ok || s.AccessToken == "" || s.AccessToken == stale {
		return "", false
	}
	return s.AccessToken, true
}

func (r *Refresher) refresh(ctx context.Context) (string, error) {
	s, ok := r.store.Get()
	if !ok {
		// Already cleared, so the loss was reported when it happened.
		return "", ErrAuthenticationLost
	}
	if s.RefreshToken == "" {
		return "", r.fail(fmt.Errorf("no refresh token"))
	}

	token, rotated, err := r.exchange(ctx, s.RefreshToken)
	if err != nil {
		return "", r.fail(err)
	}

	r.store.SetAccessToken(token)
	r.store.SetRefreshToken(rotated)
	r.metrics.Refresh("success")
	r.logger.Info().Msg("access token refreshed")
	return token, nil
}

func (r *Refresher) exchange(ctx context.Context, refreshToken string) (accessToken, rotated string, err error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result refreshResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", err
	}
	if result.AccessToken == "" {
		return "", "", fmt.Errorf("refresh response carried no access token")
	}

	return result.AccessToken, result.RefreshToken, nil
}

func (r *Refresher) fail(cause error) error {
	r.store.Clear()
	r.metrics.Refresh("failure")
	r.logger.Warn().Err(cause).Msg("token refresh failed, session cleared")

	r.hooksMu.Lock()
	hooks := append([]func(){}, r.onAuthLost...)
	r.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	return &TokenRefreshError{Err: cause}
}
