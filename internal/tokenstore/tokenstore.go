package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyCurrentUser  = "current_user"

	filtersPrefix = "filters:"
)

// FiltersKey returns the key holding the saved list filters of module.
func FiltersKey(module string) string {
	return filtersPrefix + module
}

// IsAuthKey reports whether key holds part of the session credentials.
func IsAuthKey(key string) bool {
	return key == KeyAccessToken || key == KeyRefreshToken
}

// TokenStore gives typed access to the session kept in a Store.
type TokenStore struct {
	store Store
}

func New(store Store) *TokenStore {
	return &TokenStore{store: store}
}

// Backend returns the underlying store.
func (t *TokenStore) Backend() Store {
	return t.store
}

// Watch reports changes made by other processes. It returns (nil, nil)
// when the backend cannot watch.
func (t *TokenStore) Watch(ctx context.Context) (<-chan Change, error) {
	w, ok := t.store.(Watcher)
	if !ok {
		return nil, nil
	}
	return w.Watch(ctx)
}

func (t *TokenStore) get(ctx context.Context, key string) (string, error) {
	v, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// AccessToken returns the stored access token or "" when absent.
func (t *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return t.get(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token or "" when absent.
func (t *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	return t.get(ctx, KeyRefreshToken)
}

// SetTokens stores access and, when non-empty, a rotated refresh token.
func (t *TokenStore) SetTokens(ctx context.Context, access, refresh string) error {
	if err := t.store.Set(ctx, KeyAccessToken, access); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if refresh != "" {
		if err := t.store.Set(ctx, KeyRefreshToken, refresh); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
	}
	return nil
}

// User decodes the cached profile into v. It reports false when no
// profile is cached.
func (t *TokenStore) User(ctx context.Context, v any) (bool, error) {
	raw, err := t.get(ctx, KeyCurrentUser)
	if err != nil || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode cached user: %w", err)
	}
	return true, nil
}

func (t *TokenStore) SetUser(ctx context.Context, user any) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, KeyCurrentUser, string(raw))
}

// Clear removes the credentials and the cached profile. Saved filters stay.
func (t *TokenStore) Clear(ctx context.Context) error {
	return t.store.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyCurrentUser)
}

// SavedFilters returns the filters last saved for module, or nil.
func (t *TokenStore) SavedFilters(ctx context.Context, module string) (map[string]any, error) {
	raw, err := t.get(ctx, FiltersKey(module))
	if err != nil || raw == "" {
		return nil, err
	}
	var filters map[string]any
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, fmt.Errorf("failed to decode saved filters: %w", err)
	}
	return filters, nil
}

func (t *TokenStore) SaveFilters(ctx context.Context, module string, filters map[string]any) error {
	raw, err := json.Marshal(filters)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, FiltersKey(module), string(raw))
}

func (t *TokenStore) Close() error {
	return t.store.Close()
}
