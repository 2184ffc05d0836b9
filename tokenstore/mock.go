package tokenstore

import (
	"context"
	"time"
)

// MockStore provides customizable hooks for testing Store behavior.
type MockStore struct {
	PutRequestTokenFunc    func(ctx context.Context, token, secret string) error
	TakeRequestTokenFunc   func(ctx context.Context, token string) (string, error)
	DeleteRequestTokenFunc func(ctx context.Context, token string) error
	PutAccessTokenFunc     func(ctx context.Context, tok AccessToken) error
	LookupAccessTokenFunc  func(ctx context.Context, token string) (AccessToken, error)
	IncrQuotaFunc          func(ctx context.Context, token string, at time.Time) (int64, error)
	CleanupFunc            func(ctx context.Context) (int64, error)
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)

func (m *MockStore) PutRequestToken(ctx context.Context, token, secret string) error {
	if m.PutRequestTokenFunc != nil {
		return m.PutRequestTokenFunc(ctx, token, secret)
	}
	return nil
}

func (m *MockStore) TakeRequestToken(ctx context.Context, token string) (string, error) {
	if m.TakeRequestTokenFunc != nil {
		return m.TakeRequestTokenFunc(ctx, token)
	}
	return "", ErrNotFound
}

func (m *MockStore) DeleteRequestToken(ctx context.Context, token string) error {
	if m.DeleteRequestTokenFunc != nil {
		return m.DeleteRequestTokenFunc(ctx, token)
	}
	return nil
}

func (m *MockStore) PutAccessToken(ctx context.Context, tok AccessToken) error {
	if m.PutAccessTokenFunc != nil {
		return m.PutAccessTokenFunc(ctx, tok)
	}
	return nil
}

func (m *MockStore) LookupAccessToken(ctx context.Context, token string) (AccessToken, error) {
	if m.LookupAccessTokenFunc != nil {
		return m.LookupAccessTokenFunc(ctx, token)
	}
	return AccessToken{}, ErrNotFound
}

func (m *MockStore) IncrQuota(ctx context.Context, token string, at time.Time) (int64, error) {
	if m.IncrQuotaFunc != nil {
		return m.IncrQuotaFunc(ctx, token, at)
	}
	return 1, nil
}

func (m *MockStore) Cleanup(ctx context.Context) (int64, error) {
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx)
	}
	return 0, nil
}
