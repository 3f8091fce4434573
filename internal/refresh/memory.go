package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/juralen/tokengate/internal/token"
)

// MemoryStore is a mutex-guarded in-process Store. It honors the same
// atomic rotation contract as the durable backends and exists for unit
// tests and single-process runs.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[token.Digest]*Token
	byUser map[string]map[token.Digest]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[token.Digest]*Token),
		byUser: make(map[string]map[token.Digest]struct{}),
	}
}

func (s *MemoryStore) Create(ctx context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[tok.Digest]; exists {
		return errors.New("duplicate token digest")
	}

	stored := *tok
	s.byHash[tok.Digest] = &stored
	s.indexLocked(tok.UserID, tok.Digest)
	return nil
}

func (s *MemoryStore) GetByDigest(ctx context.Context, d token.Digest) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byHash[d]
	if !ok {
		return nil, ErrNotFound
	}

	copied := *tok
	return &copied, nil
}

func (s *MemoryStore) ValidateAndRotate(ctx context.Context, presented, next token.Digest, ttl time.Duration) (*Token, *Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byHash[presented]
	if !ok {
		return nil, nil, ErrNotFound
	}

	now := time.Now()
	if !tok.ExpiresAt.After(now) {
		s.deleteLocked(tok)
		return nil, nil, ErrExpired
	}
	if !tok.Active {
		s.deleteLocked(tok)
		return nil, nil, ErrNotActive
	}

	tok.Active = false
	used := now
	tok.LastUsedAt = &used

	renewed := &Token{
		ID:         uuid.NewString(),
		UserID:     tok.UserID,
		Digest:     next,
		DeviceInfo: tok.DeviceInfo,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Active:     true,
	}
	s.byHash[next] = renewed
	s.indexLocked(renewed.UserID, next)

	oldCopy := *tok
	newCopy := *renewed
	return &oldCopy, &newCopy, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, d token.Digest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.byHash[d]
	if !ok || !tok.Active {
		return false, nil
	}

	tok.Active = false
	return true, nil
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked int64
	for d := range s.byUser[userID] {
		if tok, ok := s.byHash[d]; ok && tok.Active {
			tok.Active = false
			revoked++
		}
	}
	return revoked, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var purged int64
	for _, tok := range s.byHash {
		if !tok.ExpiresAt.After(now) {
			s.deleteLocked(tok)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) indexLocked(userID string, d token.Digest) {
	set, ok := s.byUser[userID]
	if !ok {
		set = make(map[token.Digest]struct{})
		s.byUser[userID] = set
	}
	set[d] = struct{}{}
}

func (s *MemoryStore) deleteLocked(tok *Token) {
	delete(s.byHash, tok.Digest)
	if set, ok := s.byUser[tok.UserID]; ok {
		delete(set, tok.Digest)
		if len(set) == 0 {
			delete(s.byUser, tok.UserID)
		}
	}
}
