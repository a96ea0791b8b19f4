package quiz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/cases"

	"github.com/p-n-ai/pai-progress/internal/platform/cache"
)

// DefaultWeakTopicCapacity bounds the topics kept per user.
const DefaultWeakTopicCapacity = 10

// TopicCount is how often a user answered a topic incorrectly.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// WeakTopics aggregates the topics of incorrect answers per user, keeping
// only the most frequent ones.
type WeakTopics interface {
	Record(ctx context.Context, userID string, topics []string) error
	// Top returns up to limit topics, most frequent first.
	Top(ctx context.Context, userID string, limit int) ([]TopicCount, error)
}

// normalizeTopic trims and case-folds a topic so "Hashing" and "hashing "
// share a counter. A Caser is stateful, so each call gets its own.
func normalizeTopic(topic string) string {
	return cases.Fold().String(strings.TrimSpace(topic))
}

// MemoryWeakTopics is an in-memory bounded frequency counter.
type MemoryWeakTopics struct {
	capacity int
	counts   map[string]map[string]int
	mu       sync.Mutex
}

// NewMemoryWeakTopics creates a counter keeping at most capacity topics per user.
func NewMemoryWeakTopics(capacity int) *MemoryWeakTopics {
	if capacity <= 0 {
		capacity = DefaultWeakTopicCapacity
	}
	return &MemoryWeakTopics{
		capacity: capacity,
		counts:   make(map[string]map[string]int),
	}
}

func (w *MemoryWeakTopics) Record(_ context.Context, userID string, topics []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	counts, ok := w.counts[userID]
	if !ok {
		counts = make(map[string]int)
		w.counts[userID] = counts
	}
	for _, t := range topics {
		t = normalizeTopic(t)
		if t == "" {
			continue
		}
		counts[t]++
	}
	for len(counts) > w.capacity {
		delete(counts, ranked(counts)[len(counts)-1].Topic)
	}
	return nil
}

func (w *MemoryWeakTopics) Top(_ context.Context, userID string, limit int) ([]TopicCount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	top := ranked(w.counts[userID])
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

// ranked orders topics by count descending, then by name.
func ranked(counts map[string]int) []TopicCount {
	out := make([]TopicCount, 0, len(counts))
	for topic, n := range counts {
		out = append(out, TopicCount{Topic: topic, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// RedisWeakTopics keeps each user's counter in a sorted set trimmed to
// capacity members.
type RedisWeakTopics struct {
	cache    *cache.Cache
	client   *redis.Client
	capacity int
}

// NewRedisWeakTopics creates a Redis/Dragonfly backed counter.
func NewRedisWeakTopics(c *cache.Cache, capacity int) *RedisWeakTopics {
	if capacity <= 0 {
		capacity = DefaultWeakTopicCapacity
	}
	return &RedisWeakTopics{cache: c, client: c.Client(), capacity: capacity}
}

func (w *RedisWeakTopics) Record(ctx context.Context, userID string, topics []string) error {
	key := w.cache.Key("weak_topics", userID)
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range topics {
			t = normalizeTopic(t)
			if t == "" {
				continue
			}
			pipe.ZIncrBy(ctx, key, 1, t)
		}
		// Rank 0 is the lowest score; keep the top capacity members.
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-w.capacity-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("record weak topics: %w", err)
	}
	return nil
}

func (w *RedisWeakTopics) Top(ctx context.Context, userID string, limit int) ([]TopicCount, error) {
	if limit <= 0 || limit > w.capacity {
		limit = w.capacity
	}
	zs, err := w.client.ZRevRangeWithScores(ctx, w.cache.Key("weak_topics", userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read weak topics: %w", err)
	}

	out := make([]TopicCount, 0, len(zs))
	for _, z := range zs {
		topic, _ := z.Member.(string)
		out = append(out, TopicCount{Topic: topic, Count: int(z.Score)})
	}
	return out, nil
}
