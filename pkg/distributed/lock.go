package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotHeld = errors.New("lease not held by this holder")

// Only the holder may extend or delete the key.
var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
)

// Lease is an expiring exclusive claim on a Redis key. The holder keeps it
// alive with Renew; a holder that disappears loses it after the TTL.
type Lease struct {
	client redis.Cmdable
	key    string
	value  string // unique identifier for this holder
	ttl    time.Duration
}

// NewLease creates a lease on key for holder. An empty holder gets a random
// identity.
func NewLease(client redis.Cmdable, key, holder string, ttl time.Duration) *Lease {
	if holder == "" {
		holder = generateLockValue()
	}
	return &Lease{
		client: client,
		key:    key,
		value:  holder,
		ttl:    ttl,
	}
}

// generateLockValue generates a unique value for the lease
func generateLockValue() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (l *Lease) Key() string { return l.key }

func (l *Lease) Holder() string { return l.value }

func (l *Lease) TTL() time.Duration { return l.ttl }

// RenewEvery is the renewal period that keeps the lease alive.
func (l *Lease) RenewEvery() time.Duration { return l.ttl / 2 }

// TryAcquire takes the lease if nobody holds it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return acquired, nil
}

// Renew extends the lease. It returns ErrNotHeld if the lease expired or
// belongs to someone else.
func (l *Lease) Renew(ctx context.Context) error {
	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release deletes the lease if this holder owns it.
func (l *Lease) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Owner returns the current holder, or "" when the lease is free.
func (l *Lease) Owner(ctx context.Context) (string, error) {
	v, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
