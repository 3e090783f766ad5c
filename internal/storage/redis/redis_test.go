package redisstorage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/geochirp/globe-engine/pkg/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{URL: "not-a-url"}, nil)
	assert.Error(t, err)
}

func TestNew_DefaultRetention(t *testing.T) {
	b, err := New(Config{URL: "redis://localhost:6379/0"}, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, DefaultRetention, b.cfg.Retention)
}

func TestDecode_SkipsGarbage(t *testing.T) {
	b := &Backend{log: slog.New(slog.DiscardHandler)}
	good, err := json.Marshal(core.RawRecord{ID: "a", Text: core.StringPtr("hola")})
	require.NoError(t, err)

	got := b.decode([]string{string(good), "{broken", `{"id":"b"}`})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "hola", *got[0].Text)
	assert.Equal(t, "b", got[1].ID)
}

func TestFilterAuthor(t *testing.T) {
	records := []core.RawRecord{
		{ID: "d", Author: &core.AuthorRef{UID: "ana"}},
		{ID: "c"},
		{ID: "b", Author: &core.AuthorRef{UID: "bob"}},
		{ID: "a", Author: &core.AuthorRef{UID: "ana"}},
	}
	got := filterAuthor(records, "ana", 5)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	assert.Len(t, filterAuthor(records, "ana", 1), 1)
	assert.Empty(t, filterAuthor(records, "zed", 5))
}

// TestBackend_Live runs against a real server when GLOBE_TEST_REDIS_URL is set.
func TestBackend_Live(t *testing.T) {
	url := os.Getenv("GLOBE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GLOBE_TEST_REDIS_URL not set")
	}

	suffix := uuid.NewString()
	b, err := New(Config{
		URL:       url,
		Key:       "globe:test:" + suffix,
		Channel:   "globe:test:changed:" + suffix,
		Retention: 3,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	t.Cleanup(func() {
		b.rdb.Del(context.Background(), b.cfg.Key)
		b.Close()
	})

	var mu sync.Mutex
	var snaps []core.Snapshot
	sub, err := b.Subscribe(context.Background(), 2, func(s core.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, b.Publish(ctx, core.RawRecord{ID: id, Author: &core.AuthorRef{UID: "ana"}}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(snaps) == 0 {
			return false
		}
		last := snaps[len(snaps)-1].Records
		return len(last) == 2 && last[0].ID == "d" && last[1].ID == "c"
	}, 3*time.Second, 10*time.Millisecond)

	n, err := b.rdb.LLen(ctx, b.cfg.Key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "list trimmed to retention")

	recent, err := b.RecentByAuthor(ctx, "ana", 5)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
