package cache

import (
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-progress/internal/platform/config"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/0", false},
		{"empty", "", true},
		{"wrong-scheme", "http://localhost:6379", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	_, err := Open(t.Context(), config.CacheConfig{URL: "redis://localhost:59999"})
	if err == nil {
		t.Fatal("Open() should return error for unreachable host")
	}
}

func TestOpen_EmptyURL(t *testing.T) {
	if _, err := Open(t.Context(), config.CacheConfig{}); err == nil {
		t.Fatal("Open() should reject an empty URL")
	}
}

func TestCache_Key(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		parts  []string
		want   string
	}{
		{"default", DefaultKeyPrefix, []string{"weak_topics", "user-1"}, "pai-progress:weak_topics:user-1"},
		{"tenant", "tenant-a", []string{"weak_topics", "user-1"}, "tenant-a:weak_topics:user-1"},
		{"single part", "p", []string{"x"}, "p:x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Cache{client: redis.NewClient(&redis.Options{}), prefix: tt.prefix}
			t.Cleanup(func() { _ = c.Close() })
			if got := c.Key(tt.parts...); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}
