// Package nonce hands out strictly increasing, gap-free transaction
// sequence numbers per (chain, address). The cached counter lives in
// redis; the authoritative source is on-chain state, read exactly once
// per cold cache under a TTL-bound distributed lock.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stakemint/sagad/pkg/api"
)

type (
	// TxCounter reads the authoritative transaction count for an
	// address from the chain
	TxCounter interface {
		TransactionCount(
			ctx context.Context, chain api.Chain, address string,
		) (uint64, error)
	}

	// Allocator allocates nonces. Safe for concurrent use across
	// processes: mutual exclusion on the cold path is provided by the
	// distributed lock, not process-local state
	Allocator struct {
		rdb     *redis.Client
		counter TxCounter
		opts    Options
	}

	// Options bounds lock and polling behavior
	Options struct {
		LockTTL time.Duration
		Poll    time.Duration
		Timeout time.Duration
	}
)

var (
	// ErrChainUnavailable is the hard failure surfaced when neither the
	// lock nor a populated cache could be observed within the timeout
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrLockTimeout reports that the seeding lock could not be
	// acquired in time
	ErrLockTimeout = errors.New("nonce lock timeout")

	// incrIfExists increments the counter only when it is already
	// seeded, so a cold cache is distinguishable from a live one
	incrIfExists = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("INCR", KEYS[1])
end
return false
`)

	// releaseIfOwner deletes the lock only when the caller still owns
	// it, so an expired holder cannot release a successor's lock
	releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// New creates an allocator over the given redis client and chain
// reader
func New(rdb *redis.Client, counter TxCounter, opts Options) *Allocator {
	return &Allocator{rdb: rdb, counter: counter, opts: opts}
}

// Next returns the next nonce for the address on the chain. Concurrent
// callers for the same (chain, address) receive a contiguous sequence
// with no duplicates and no gaps
func (a *Allocator) Next(
	ctx context.Context, chain api.Chain, address string,
) (uint64, error) {
	key := counterKey(chain, address)

	if n, ok, err := a.increment(ctx, key); err != nil || ok {
		return n, err
	}
	return a.seed(ctx, chain, address, key)
}

// Invalidate drops the cached counter so the next caller re-reads the
// chain. Used after a transaction is rejected for a nonce mismatch
func (a *Allocator) Invalidate(
	ctx context.Context, chain api.Chain, address string,
) error {
	return a.rdb.Del(ctx, counterKey(chain, address)).Err()
}

// increment is the hot path: a single atomic INCR when the counter is
// already seeded
func (a *Allocator) increment(
	ctx context.Context, key string,
) (uint64, bool, error) {
	res, err := incrIfExists.Run(ctx, a.rdb, []string{key}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, ok := res.(int64)
	if !ok || n < 0 {
		return 0, false, fmt.Errorf("unexpected counter value: %v", res)
	}
	return uint64(n), true, nil
}

// seed is the cold path: one caller wins the lock, reads the on-chain
// transaction count, and populates the cache; everyone else polls for
// either the populated cache or the lock, bounded by the overall
// timeout. This keeps a thundering herd of step handlers off the chain
// RPC endpoint
func (a *Allocator) seed(
	ctx context.Context, chain api.Chain, address, key string,
) (uint64, error) {
	deadline := time.NewTimer(a.opts.Timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(a.opts.Poll)
	defer ticker.Stop()

	for {
		acquired, token, err := a.acquireLock(ctx, chain, address)
		if err != nil {
			return 0, err
		}
		if acquired {
			return a.seedAsOwner(ctx, chain, address, key, token)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, fmt.Errorf("%w: %w: %s/%s",
				ErrChainUnavailable, ErrLockTimeout, chain, address)
		case <-ticker.C:
			if n, ok, err := a.increment(ctx, key); err != nil || ok {
				return n, err
			}
		}
	}
}

func (a *Allocator) seedAsOwner(
	ctx context.Context, chain api.Chain, address, key, token string,
) (uint64, error) {
	defer a.releaseLock(chain, address, token)

	// Another caller may have seeded between our miss and the lock
	if n, ok, err := a.increment(ctx, key); err != nil || ok {
		return n, err
	}

	count, err := a.counter.TransactionCount(ctx, chain, address)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrChainUnavailable, err)
	}

	// The counter records the last allocated nonce; this caller takes
	// the on-chain count itself
	if err := a.rdb.Set(ctx, key, count, 0).Err(); err != nil {
		return 0, err
	}
	return count, nil
}

func (a *Allocator) acquireLock(
	ctx context.Context, chain api.Chain, address string,
) (bool, string, error) {
	token := uuid.NewString()
	ok, err := a.rdb.SetNX(
		ctx, lockKey(chain, address), token, a.opts.LockTTL,
	).Result()
	if err != nil {
		return false, "", err
	}
	return ok, token, nil
}

func (a *Allocator) releaseLock(chain api.Chain, address, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = releaseIfOwner.Run(
		ctx, a.rdb, []string{lockKey(chain, address)}, token,
	).Err()
}

func counterKey(chain api.Chain, address string) string {
	return fmt.Sprintf("nonce:%s:%s", chain, address)
}

func lockKey(chain api.Chain, address string) string {
	return fmt.Sprintf("nonce-lock:%s:%s", chain, address)
}
