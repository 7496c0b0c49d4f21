// Package conversation persists chat sessions.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/llmgate/internal/domain"
)

// store is the consumer interface for Redis-backed conversations (ISP).
type store interface {
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// RedisStore keeps each session as a list of JSON turns.
// Keys are scoped by account so sessions never leak across accounts.
type RedisStore struct {
	store  store
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis conversation store. ttl 0 keeps sessions forever.
func NewRedisStore(s store, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{store: s, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisStore) turnsKey(account, session string) string {
	return fmt.Sprintf("%sconv:%s:%s:turns", r.prefix, account, session)
}

func (r *RedisStore) metaKey(account, session string) string {
	return fmt.Sprintf("%sconv:%s:%s:meta", r.prefix, account, session)
}

// AppendTurn persists turn and returns it with ID and CreatedAt filled in.
func (r *RedisStore) AppendTurn(
	ctx context.Context, account, session string, turn domain.ConversationTurn,
) (domain.ConversationTurn, error) {
	turn = stamp(turn, r.now)

	data, err := json.Marshal(turn)
	if err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("conversation encode turn: %w", err)
	}

	key := r.turnsKey(account, session)
	if err := r.store.RPush(ctx, key, string(data)); err != nil {
		return domain.ConversationTurn{}, fmt.Errorf("conversation append %s: %w", key, err)
	}
	if r.ttl > 0 {
		if err := r.store.Expire(ctx, key, r.ttl, false); err != nil {
			return domain.ConversationTurn{}, fmt.Errorf("conversation expire %s: %w", key, err)
		}
	}
	return turn, nil
}

// LoadRecentTurns returns at most limit turns, oldest first.
func (r *RedisStore) LoadRecentTurns(
	ctx context.Context, account, session string, limit int,
) ([]domain.ConversationTurn, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	key := r.turnsKey(account, session)
	raw, err := r.store.LRange(ctx, key, start, -1)
	if err != nil {
		return nil, fmt.Errorf("conversation load %s: %w", key, err)
	}

	turns := make([]domain.ConversationTurn, 0, len(raw))
	for _, item := range raw {
		var t domain.ConversationTurn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("conversation decode turn in %s: %w", key, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// EnsureSession records the session title the first time a session is seen.
func (r *RedisStore) EnsureSession(ctx context.Context, account, session, title string) error {
	key := r.metaKey(account, session)
	created, err := r.store.HSetNX(ctx, key, "title", title)
	if err != nil {
		return fmt.Errorf("conversation meta %s: %w", key, err)
	}
	if created && r.ttl > 0 {
		if err := r.store.Expire(ctx, key, r.ttl, true); err != nil {
			return fmt.Errorf("conversation meta expire %s: %w", key, err)
		}
	}
	return nil
}

// stamp assigns a fresh id and creation time when missing.
func stamp(turn domain.ConversationTurn, now func() time.Time) domain.ConversationTurn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now().UTC()
	}
	return turn
}
