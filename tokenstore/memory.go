package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a Store kept entirely in process memory. It backs
// tests and single-instance deployments that run without Mongo; data
// does not survive a restart.
type MemoryStore struct {
	// Now may be pinned by tests to exercise TTL behavior.
	Now func() time.Time

	mu      sync.Mutex
	request map[string]requestEntry
	access  map[string]AccessToken
	quota   map[string]quotaEntry
}

type requestEntry struct {
	secret  string
	created time.Time
}

type quotaEntry struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		request: make(map[string]requestEntry),
		access:  make(map[string]AccessToken),
		quota:   make(map[string]quotaEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemoryStore) PutRequestToken(ctx context.Context, token, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.request[token] = requestEntry{secret: secret, created: s.now()}
	return nil
}

func (s *MemoryStore) TakeRequestToken(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.request[token]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.request, token)
	if s.now().Sub(entry.created) > RequestTokenTTL {
		return "", ErrNotFound
	}
	return entry.secret, nil
}

func (s *MemoryStore) DeleteRequestToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.request, token)
	return nil
}

func (s *MemoryStore) PutAccessToken(ctx context.Context, tok AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.Created.IsZero() {
		tok.Created = s.now()
	}
	if tok.Specifier != "" {
		for id, existing := range s.access {
			if existing.Specifier == tok.Specifier {
				delete(s.access, id)
			}
		}
	}
	s.access[tok.Token] = tok
	return nil
}

func (s *MemoryStore) LookupAccessToken(ctx context.Context, token string) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.access[token]
	if !ok {
		return AccessToken{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) IncrQuota(ctx context.Context, token string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := QuotaBucket(token, at)
	entry := s.quota[key]
	if entry.count == 0 {
		entry.expiresAt = at.Add(QuotaWindow)
	} else if s.now().After(entry.expiresAt) {
		entry = quotaEntry{expiresAt: at.Add(QuotaWindow)}
	}
	entry.count++
	s.quota[key] = entry
	return entry.count, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ExpirationWindow)
	var removed int64
	for token, entry := range s.request {
		if removed >= CleanupBatchSize {
			break
		}
		if entry.created.Before(cutoff) {
			delete(s.request, token)
			removed++
		}
	}
	return removed, nil
}
