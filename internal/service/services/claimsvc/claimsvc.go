package claimsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// The claim key is never released explicitly: the TTL bounds the dedup
// window so a duplicate is still detected when the process crashes
// between the side effect and the broker acknowledgement.
const claimKeyPrefix = "msg_handled."

const defaultClaimTTLSeconds = 3600

var (
	// ErrAlreadyClaimed means another consumer already claimed this
	// identity inside the TTL window; the delivery is a duplicate.
	ErrAlreadyClaimed = errors.New("message has already been claimed")

	// ErrCannotClaim means the delivery carries no identity, so it can
	// neither be claimed nor deduplicated. The caller must process it
	// anyway; dropping an unidentifiable message would lose it.
	ErrCannotClaim = errors.New("message has no id and cannot be claimed")
)

// store is the claim backing store: an atomic check-and-set shared by
// every consumer process.
type store interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Guard deduplicates broker redeliveries with a TTL-bounded claim per
// message identity.
type Guard struct {
	store store
	ttl   time.Duration
}

// NewGuard creates a claim guard. The TTL comes from claim.ttl_seconds,
// defaulting to one hour.
func NewGuard(store store) *Guard {
	ttlSeconds := viper.GetInt("claim.ttl_seconds")
	if ttlSeconds == 0 {
		ttlSeconds = defaultClaimTTLSeconds
	}

	return &Guard{
		store: store,
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

// Claim atomically claims the message identity. It returns nil when the
// claim succeeded, ErrAlreadyClaimed when the identity was claimed
// within the TTL window, ErrCannotClaim when the identity is empty, and
// a wrapped store error when the backing store is unreachable.
func (g *Guard) Claim(ctx context.Context, messageID string) error {
	if messageID == "" {
		return ErrCannotClaim
	}

	ok, err := g.store.SetIfAbsent(ctx, claimKeyPrefix+messageID, g.ttl)
	if err != nil {
		return fmt.Errorf("failed to claim message %s: %w", messageID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyClaimed, claimKeyPrefix+messageID)
	}

	return nil
}
