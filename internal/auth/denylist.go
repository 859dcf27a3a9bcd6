package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist stores revoked token ids in Redis. Entries expire together with
// the token they revoke, so the list never grows past the token TTL window.
type Denylist struct {
	rdb *redis.Client
}

func NewDenylist(rdb *redis.Client) *Denylist {
	return &Denylist{rdb: rdb}
}

func (d *Denylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired; nothing to revoke.
		return nil
	}
	return d.rdb.Set(ctx, "revoked:"+tokenID, "1", ttl).Err()
}

func (d *Denylist) Revoked(ctx context.Context, tokenID string) (bool, error) {
	err := d.rdb.Get(ctx, "revoked:"+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
