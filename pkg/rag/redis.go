package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/artemis-pipeline/artemis/core"
)

// RedisRAG stores artifacts as JSON blobs under <ns>:artifact:<id>, one
// plain set per lexical token (<ns>:tokens:<word>) used to narrow
// QuerySimilar candidates before scoring, and a sorted set <ns>:index
// scored by insertion time, which QuerySimilar does not read. Grounded on
// memory.RedisMemory's namespaced-key pattern.
type RedisRAG struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
	seq       int64
}

// NewRedisRAG connects to redisURL and returns a RedisRAG using namespace
// as its key prefix (defaults to "rag" if empty).
func NewRedisRAG(redisURL, namespace string, logger core.Logger) (*RedisRAG, error) {
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
		namespace = "rag"
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	return &RedisRAG{client: client, namespace: namespace, logger: logger}, nil
}

func (r *RedisRAG) artifactKey(id string) string {
	return fmt.Sprintf("%s:artifact:%s", r.namespace, id)
}

func (r *RedisRAG) tokenKey(token string) string {
	return fmt.Sprintf("%s:tokens:%s", r.namespace, token)
}

func (r *RedisRAG) indexKey() string {
	return fmt.Sprintf("%s:index", r.namespace)
}

func (r *RedisRAG) StoreArtifact(artifactType ArtifactType, content string, metadata map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := uuid.New().String()
	artifact := Artifact{ID: id, Type: artifactType, Content: content, Metadata: metadata, CreatedAt: time.Now()}

	data, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	if err := r.client.Set(ctx, r.artifactKey(id), data, 0).Err(); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}

	score := float64(time.Now().UnixNano())
	if err := r.client.ZAdd(ctx, r.indexKey(), &redis.Z{Score: score, Member: id}).Err(); err != nil {
		return "", fmt.Errorf("index artifact: %w", err)
	}
	for token := range wordSet(content) {
		if err := r.client.SAdd(ctx, r.tokenKey(token), id).Err(); err != nil {
			r.logger.Warn("failed to index artifact token", map[string]interface{}{"token": token, "error": err.Error()})
		}
	}

	return id, nil
}

func (r *RedisRAG) QuerySimilar(queryText string, topK int, filter *Filter) ([]ScoredArtifact, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokens := wordSet(queryText)
	candidateIDs := make(map[string]bool)
	for token := range tokens {
		ids, err := r.client.SMembers(ctx, r.tokenKey(token)).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			candidateIDs[id] = true
		}
	}

	var results []ScoredArtifact
	for id := range candidateIDs {
		data, err := r.client.Get(ctx, r.artifactKey(id)).Result()
		if err != nil {
			continue
		}
		var artifact Artifact
		if err := json.Unmarshal([]byte(data), &artifact); err != nil {
			continue
		}
		if filter != nil && filter.Type != "" && artifact.Type != filter.Type {
			continue
		}
		score := lexicalOverlap(queryText, artifact.Content)
		if score <= 0 {
			continue
		}
		results = append(results, ScoredArtifact{Content: artifact.Content, Metadata: artifact.Metadata, Score: score})
	}

	sortByScoreDesc(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (r *RedisRAG) GetRecommendations(taskDescription string) (Recommendations, error) {
	matches, err := r.QuerySimilar(taskDescription, 5, &Filter{Type: ArtifactStageResult})
	if err != nil {
		return Recommendations{}, err
	}

	var insights []string
	for _, m := range matches {
		if note, ok := m.Metadata["insight"].(string); ok && note != "" {
			insights = append(insights, note)
		}
	}

	confidence := 0.0
	if len(matches) > 0 {
		confidence = matches[0].Score
	}

	return Recommendations{
		SimilarSuccesses:   matches,
		HistoricalInsights: insights,
		Confidence:         confidence,
	}, nil
}

// Close releases the underlying Redis connection.
func (r *RedisRAG) Close() error {
	return r.client.Close()
}
