package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/artemis-pipeline/artemis/core"
	"github.com/artemis-pipeline/artemis/pkg/pipeline"
)

// Snapshot is the durable, wire-format representation of a Machine at a
// point in time. The state machine is the sole writer of snapshots; every
// other component only reads them.
type Snapshot struct {
	CardID    string                 `json:"card_id"`
	State     State                  `json:"state"`
	Health    HealthState            `json:"health"`
	Stack     []Frame                `json:"stack"`
	History   []pipeline.Transition  `json:"history"`
	SavedAt   time.Time              `json:"saved_at"`
}

// Snapshot captures the machine's current state into a Snapshot value.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	stack := make([]Frame, len(m.stack))
	copy(stack, m.stack)
	history := make([]pipeline.Transition, len(m.history))
	copy(history, m.history)

	return Snapshot{
		CardID:  m.cardID,
		State:   m.current,
		Health:  m.health,
		Stack:   stack,
		History: history,
		SavedAt: time.Now(),
	}
}

// Restore replaces the machine's state with the contents of a Snapshot.
// Used when resuming a run from persisted state.
func (m *Machine) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cardID = snap.CardID
	m.current = snap.State
	m.health = snap.Health
	m.stack = append([]Frame(nil), snap.Stack...)
	m.history = append([]pipeline.Transition(nil), snap.History...)
}

// SnapshotStore persists and retrieves Machine snapshots keyed by card ID.
// A corrupt or unreadable snapshot is treated as no snapshot at all - the
// caller restarts the run from IDLE rather than fail outright.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, cardID string) (Snapshot, bool, error)
	Delete(ctx context.Context, cardID string) error
}

// FileSnapshotStore persists one JSON file per card under a directory,
// writing atomically via temp-file-plus-rename so a crash mid-write never
// leaves a partially-written snapshot behind.
type FileSnapshotStore struct {
	dir    string
	logger core.Logger
}

// NewFileSnapshotStore creates a file-backed snapshot store rooted at dir,
// creating the directory if necessary.
func NewFileSnapshotStore(dir string, logger core.Logger) (*FileSnapshotStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileSnapshotStore{dir: dir, logger: logger}, nil
}

func (s *FileSnapshotStore) path(cardID string) string {
	return filepath.Join(s.dir, cardID+".json")
}

func (s *FileSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := s.path(snap.CardID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (s *FileSnapshotStore) Load(ctx context.Context, cardID string) (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path(cardID))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt snapshot: treat as no snapshot, per the recovery
		// contract, but surface it in logs so an operator can investigate.
		s.logger.Warn("snapshot file corrupt, treating as absent", map[string]interface{}{
			"card_id": cardID,
			"error":   err.Error(),
		})
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *FileSnapshotStore) Delete(ctx context.Context, cardID string) error {
	err := os.Remove(s.path(cardID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// RedisSnapshotStore persists snapshots as JSON strings in Redis, for
// deployments sharing state across processes. A corrupt value is treated
// as no snapshot, matching FileSnapshotStore's contract.
type RedisSnapshotStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger
}

// NewRedisSnapshotStore creates a Redis-backed snapshot store.
func NewRedisSnapshotStore(redisURL, namespace string, ttl time.Duration, logger core.Logger) (*RedisSnapshotStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if namespace == "" {
		namespace = core.DefaultRedisPrefix
	}
	if ttl == 0 {
		ttl = core.DefaultSnapshotTTL
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	return &RedisSnapshotStore{client: client, namespace: namespace, ttl: ttl, logger: logger}, nil
}

func (s *RedisSnapshotStore) key(cardID string) string {
	return fmt.Sprintf("%ssnapshot:%s", s.namespace, cardID)
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.CardID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write snapshot to redis: %w", err)
	}
	return nil
}

func (s *RedisSnapshotStore) Load(ctx context.Context, cardID string) (Snapshot, bool, error) {
	data, err := s.client.Get(ctx, s.key(cardID)).Result()
	if err != nil {
		if err == redis.Nil {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read snapshot from redis: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		s.logger.Warn("snapshot value corrupt, treating as absent", map[string]interface{}{
			"card_id": cardID,
			"error":   err.Error(),
		})
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *RedisSnapshotStore) Delete(ctx context.Context, cardID string) error {
	if err := s.client.Del(ctx, s.key(cardID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot from redis: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
