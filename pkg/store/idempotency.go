package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPending = "pending"

var (
	// ErrIdempotencyInFlight means another request with the same key has not finished yet.
	ErrIdempotencyInFlight = errors.New("idempotency key in flight")
	ErrIdempotencyKey      = errors.New("invalid idempotency key")
)

// Idempotency remembers which allocation a repeated create request produced.
// Keys are scoped by actor and budget so two users cannot collide.
type Idempotency struct {
	Cache Cache
	TTL   time.Duration
}

func (i *Idempotency) key(actorID, budgetID int64, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 128 {
		return "", ErrIdempotencyKey
	}
	return fmt.Sprintf("alloc:idem:%d:%d:%s", actorID, budgetID, raw), nil
}

func (i *Idempotency) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return 24 * time.Hour
}

// Begin claims the key. When a previous request completed, it returns that
// allocation id and claimed=false.
func (i *Idempotency) Begin(ctx context.Context, actorID, budgetID int64, raw string) (allocationID int64, claimed bool, err error) {
	k, err := i.key(actorID, budgetID, raw)
	if err != nil {
		return 0, false, err
	}
	ok, err := i.Cache.SetNX(ctx, k, idempotencyPending, i.ttl())
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}
	v, err := i.Cache.Get(ctx, k)
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get
		return i.Begin(ctx, actorID, budgetID, raw)
	}
	if err != nil {
		return 0, false, err
	}
	if v == idempotencyPending {
		return 0, false, ErrIdempotencyInFlight
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency entry %q: %w", k, err)
	}
	return id, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, actorID, budgetID int64, raw string, allocationID int64) error {
	k, err := i.key(actorID, budgetID, raw)
	if err != nil {
		return err
	}
	return i.Cache.Set(ctx, k, strconv.FormatInt(allocationID, 10), i.ttl())
}

// Release forgets a claimed key after a failed create so the client may retry.
func (i *Idempotency) Release(ctx context.Context, actorID, budgetID int64, raw string) error {
	k, err := i.key(actorID, budgetID, raw)
	if err != nil {
		return err
	}
	return i.Cache.Del(ctx, k)
}
