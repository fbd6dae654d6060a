package revocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRegistryUnavailable is returned when Redis cannot serve the request.
// The verifier surfaces it as a dependency failure, never as a denial.
var ErrRegistryUnavailable = errors.New("redis registry unavailable")

const defaultRetention = 7 * 365 * 24 * time.Hour

// RedisRegistry is a Redis-backed Registry. Revocation records and
// supersession markers live under separate key prefixes with a years-scale
// retention TTL so records outlive any credential they veto and are purged
// per the data-retention policy.
type RedisRegistry struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisRegistry returns a registry on the given client. prefix namespaces
// all keys; retention controls how long records are kept (default 7 years
// when <= 0).
func NewRedisRegistry(client redis.UniversalClient, prefix string, retention time.Duration) *RedisRegistry {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &RedisRegistry{client: client, prefix: prefix, retention: retention}
}

func (r *RedisRegistry) revokedKey(ref string) string {
	return r.prefix + ":rv:" + ref
}

func (r *RedisRegistry) supersededKey(sessionID string) string {
	return r.prefix + ":sp:" + sessionID
}

// Exists reports whether ref was revoked or superseded. A single pipelined
// round trip checks both key families.
func (r *RedisRegistry) Exists(ctx context.Context, ref string) (bool, error) {
	pipe := r.client.Pipeline()
	revoked := pipe.Exists(ctx, r.revokedKey(ref))
	superseded := pipe.Exists(ctx, r.supersededKey(ref))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return revoked.Val() > 0 || superseded.Val() > 0, nil
}

// Append stores the revocation record under its ref. A later append for the
// same ref overwrites the stored record; presence is what verification
// consults, so overwrites never diverge.
func (r *RedisRegistry) Append(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.revokedKey(rec.Ref), data, r.retention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// Supersede marks sessionID as rotated away. SET NX makes the marker a
// compare-and-set: the first caller wins, every later caller for the same
// session id gets false.
func (r *RedisRegistry) Supersede(ctx context.Context, sessionID string) (bool, error) {
	won, err := r.client.SetNX(ctx, r.supersededKey(sessionID), time.Now().UTC().Format(time.RFC3339Nano), r.retention).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return won, nil
}

// GetRecord returns the stored revocation record for ref, or nil when ref
// has no record (it may still be superseded).
func (r *RedisRegistry) GetRecord(ctx context.Context, ref string) (*Record, error) {
	data, err := r.client.Get(ctx, r.revokedKey(ref)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
