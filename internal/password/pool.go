package password

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of argon2 derivations running at once. Hashing
// is memory-hard on purpose; without a cap a burst of logins can pin
// every core and starve the rest of the process.
type Gate struct {
	hasher *Argon2
	sem    *semaphore.Weighted
}

// NewGate wraps hasher with a concurrency limit. maxConcurrent must be
// at least 1.
func NewGate(hasher *Argon2, maxConcurrent int64) (*Gate, error) {
	if hasher == nil {
		return nil, errors.New("nil hasher")
	}
	if maxConcurrent < 1 {
		return nil, errors.New("hash concurrency must be >= 1")
	}
	return &Gate{
		hasher: hasher,
		sem:    semaphore.NewWeighted(maxConcurrent),
	}, nil
}

// Hash acquires a slot and derives a PHC-encoded hash. Blocks until a
// slot frees up or ctx is done.
func (g *Gate) Hash(ctx context.Context, password string) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)

	return g.hasher.Hash(password)
}

// Verify acquires a slot and checks password against encodedHash.
func (g *Gate) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer g.sem.Release(1)

	return g.hasher.Verify(password, encodedHash)
}
