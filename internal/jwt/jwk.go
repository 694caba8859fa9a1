package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"

	"github.com/trioll/trioll-developer-portal/internal/repository"
)

const minRefreshInterval = 30 * time.Second

// KeySource supplies the identity provider's public signing keys.
type KeySource interface {
	KeySet(ctx context.Context) (jose.JSONWebKeySet, error)
	// Refresh bypasses caches; used when a credential names an unknown kid.
	Refresh(ctx context.Context) (jose.JSONWebKeySet, error)
}

// StaticKeySet serves a fixed key set.
type StaticKeySet struct {
	Keys jose.JSONWebKeySet
}

func (s StaticKeySet) KeySet(context.Context) (jose.JSONWebKeySet, error) { return s.Keys, nil }

func (s StaticKeySet) Refresh(context.Context) (jose.JSONWebKeySet, error) { return s.Keys, nil }

// RemoteKeySet fetches a JWKS document over HTTP and caches it for ttl.
// When a KeySetStore is configured the fetched document is shared through it.
type RemoteKeySet struct {
	url    string
	ttl    time.Duration
	client *http.Client
	store  repository.KeySetStore
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	cached      jose.JSONWebKeySet
	expiresAt   time.Time
	lastRefresh time.Time
}

// NewRemoteKeySet constructs a RemoteKeySet. client and store may be nil.
func NewRemoteKeySet(url string, ttl time.Duration, client *http.Client, store repository.KeySetStore, logger *zap.Logger) *RemoteKeySet {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.L()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RemoteKeySet{
		url:    url,
		ttl:    ttl,
		client: client,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// KeySet returns the cached key set, loading it when stale.
func (k *RemoteKeySet) KeySet(ctx context.Context) (jose.JSONWebKeySet, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.cached.Keys) > 0 && k.now().Before(k.expiresAt) {
		return k.cached, nil
	}
	return k.loadLocked(ctx, false)
}

// Refresh refetches from the provider, at most once per minRefreshInterval.
func (k *RemoteKeySet) Refresh(ctx context.Context) (jose.JSONWebKeySet, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.cached.Keys) > 0 && k.now().Sub(k.lastRefresh) < minRefreshInterval {
		return k.cached, nil
	}
	return k.loadLocked(ctx, true)
}

func (k *RemoteKeySet) loadLocked(ctx context.Context, force bool) (jose.JSONWebKeySet, error) {
	if !force && k.store != nil {
		payload, err := k.store.GetKeySet(ctx, k.url)
		if err != nil {
			k.logger.Warn("shared jwks cache read failed", zap.String("url", k.url), zap.Error(err))
		} else if len(payload) > 0 {
			var set jose.JSONWebKeySet
			if err := json.Unmarshal(payload, &set); err == nil && len(set.Keys) > 0 {
				k.cached = set
				k.expiresAt = k.now().Add(k.ttl)
				return set, nil
			}
		}
	}

	payload, err := k.fetch(ctx)
	if err != nil {
		if len(k.cached.Keys) > 0 {
			// Stale keys are served for minRefreshInterval before the next fetch.
			now := k.now()
			k.expiresAt = now.Add(minRefreshInterval)
			k.lastRefresh = now
			k.logger.Warn("jwks refresh failed, serving stale keys", zap.String("url", k.url), zap.Error(err))
			return k.cached, nil
		}
		return jose.JSONWebKeySet{}, err
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(payload, &set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode jwks: %w", err)
	}
	if len(set.Keys) == 0 {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode jwks: no keys")
	}

	now := k.now()
	k.cached = set
	k.expiresAt = now.Add(k.ttl)
	k.lastRefresh = now

	if k.store != nil {
		if err := k.store.SaveKeySet(ctx, k.url, payload, k.ttl); err != nil {
			k.logger.Warn("shared jwks cache write failed", zap.String("url", k.url), zap.Error(err))
		}
	}
	k.logger.Debug("jwks loaded", zap.String("url", k.url), zap.Int("keys", len(set.Keys)))
	return set, nil
}

func (k *RemoteKeySet) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read jwks response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks request failed: status=%d", resp.StatusCode)
	}
	return body, nil
}
