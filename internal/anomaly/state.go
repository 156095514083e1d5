package anomaly

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateManager persists baseline snapshots in Redis so restarted workers
// resume with warm baselines instead of re-triggering warmup. It never runs
// on the scoring path: workers export and import at startup, shutdown, and
// periodic quiescent points.
type StateManager struct {
	redis   *redis.Client
	enabled bool
	prefix  string
}

// NewStateManager creates a state manager. A nil client or disabled flag
// turns persistence into a no-op.
func NewStateManager(redisClient *redis.Client, enabled bool, prefix string) *StateManager {
	if prefix == "" {
		prefix = "causeway"
	}
	return &StateManager{
		redis:   redisClient,
		enabled: enabled,
		prefix:  prefix,
	}
}

// IsEnabled returns whether the state manager is enabled
func (sm *StateManager) IsEnabled() bool {
	return sm.enabled && sm.redis != nil
}

// snapshot is the persisted form of one partition's baselines.
type snapshot struct {
	Baselines map[string]*Baseline `json:"baselines"`
	SavedAt   int64                `json:"saved_at"`
}

// SaveBaselines persists a partition's baselines. The TTL is twice the
// window age so a snapshot never outlives the events it summarizes by much.
func (sm *StateManager) SaveBaselines(ctx context.Context, partition string, baselines map[string]*Baseline, window time.Duration) error {
	if !sm.IsEnabled() {
		return nil
	}

	data, err := json.Marshal(snapshot{
		Baselines: baselines,
		SavedAt:   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal baselines: %w", err)
	}

	ttl := window * 2
	if err := sm.redis.Set(ctx, sm.baselineKey(partition), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save baselines: %w", err)
	}
	return nil
}

// LoadBaselines retrieves a partition's persisted baselines. A missing
// snapshot returns an empty map, not an error.
func (sm *StateManager) LoadBaselines(ctx context.Context, partition string) (map[string]*Baseline, error) {
	if !sm.IsEnabled() {
		return map[string]*Baseline{}, nil
	}

	data, err := sm.redis.Get(ctx, sm.baselineKey(partition)).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]*Baseline{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baselines: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baselines: %w", err)
	}
	if snap.Baselines == nil {
		snap.Baselines = map[string]*Baseline{}
	}
	return snap.Baselines, nil
}

// baselineKey generates the Redis key for a partition's baseline snapshot
func (sm *StateManager) baselineKey(partition string) string {
	return fmt.Sprintf("%s:baseline:%s", sm.prefix, hashKey(partition))
}

// hashKey generates a consistent hash for a string key
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash[:8])
}
