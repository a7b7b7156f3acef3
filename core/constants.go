package core

import "time"

// Environment Variables - Artemis Protocol
const (
	// EnvRedisURL is the Redis connection URL used by Redis-backed snapshot,
	// RAG, and messenger stores when ARTEMIS_BACKEND=redis.
	EnvRedisURL = "ARTEMIS_REDIS_URL"

	// EnvNamespace scopes Redis keys and file paths to a single pipeline
	// deployment so multiple Artemis instances can share infrastructure.
	EnvNamespace = "ARTEMIS_NAMESPACE"

	// EnvDevMode enables human-readable (rather than JSON) log output.
	EnvDevMode = "ARTEMIS_DEV_MODE"

	// EnvSnapshotDir is the directory FileSnapshotStore writes pipeline
	// state snapshots to.
	EnvSnapshotDir = "ARTEMIS_SNAPSHOT_DIR"

	// EnvWorkflowDir overrides Config.WorkflowDir, the directory named for
	// YAML recovery workflow definitions.
	EnvWorkflowDir = "ARTEMIS_WORKFLOW_DIR"
)

// Default Redis key namespace for Artemis-managed state.
const (
	// DefaultRedisPrefix prefixes every Redis key Artemis writes.
	// Format: <prefix><component>:<id>
	// Example: artemis:snapshot:card-1842
	DefaultRedisPrefix = "artemis:"

	// DefaultSnapshotTTL bounds how long a card's pipeline snapshot lives
	// in Redis once the card stops actively progressing.
	DefaultSnapshotTTL = 72 * time.Hour

	// DefaultMessageTTL bounds how long an undelivered mailbox message is
	// retained before it is considered stale.
	DefaultMessageTTL = 24 * time.Hour
)
