// Package nodetag guards against two live writers minting identifiers
// with the same node tag. Each writer holds a Redis lease keyed by its
// tag for as long as it runs; a second writer with the same tag fails to
// start.
package nodetag

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrTagInUse is returned when another writer holds the lease.
var ErrTagInUse = errors.New("node tag is already leased by another writer")

// ErrLeaseLost is passed to the lost callback when renewal finds the
// lease gone or taken over.
var ErrLeaseLost = errors.New("node tag lease lost")

// renewScript extends the lease only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Key returns the Redis key guarding tag.
func Key(tag [6]byte) string {
	return fmt.Sprintf("raspisensing:nodetag:%s", hex.EncodeToString(tag[:]))
}

// Lease is a held node-tag lease.
type Lease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Acquire takes the lease for tag and starts renewing it every ttl/3.
// If renewal ever finds the lease gone, onLost is called once (from the
// renewal goroutine) and renewal stops.
func Acquire(ctx context.Context, client *redis.Client, tag [6]byte, ttl time.Duration, logger *slog.Logger, onLost func(error)) (*Lease, error) {
	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString())
	key := Key(tag)

	ok, err := client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring node tag lease %s: %w", key, err)
	}
	if !ok {
		holder, err := client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			holder = "unknown"
		}
		return nil, fmt.Errorf("%w: %s held by %s", ErrTagInUse, key, holder)
	}

	lease := &Lease{
		client: client,
		key:    key,
		owner:  owner,
		ttl:    ttl,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lease.keep(onLost)

	logger.Info("node tag lease acquired", "key", key, "owner", owner, "ttl", ttl)
	return lease, nil
}

// Owner is the value stored under the lease key.
func (l *Lease) Owner() string { return l.owner }

func (l *Lease) keep(onLost func(error)) {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
		renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			// The lease is still valid until its TTL runs out; try again
			// on the next tick.
			l.logger.Warn("renewing node tag lease failed", "key", l.key, "error", err)
			continue
		}
		if renewed == 0 {
			l.logger.Error("node tag lease lost", "key", l.key)
			if onLost != nil {
				onLost(ErrLeaseLost)
			}
			return
		}
	}
}

// Release stops renewal and deletes the lease if this writer still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("releasing node tag lease %s: %w", l.key, err)
	}
	l.logger.Info("node tag lease released", "key", l.key)
	return nil
}
