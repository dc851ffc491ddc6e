package history

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackers(t *testing.T) map[string]Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Tracker{
		"memory": NewMemory(),
		"redis":  NewRedis(client, "test:history:", time.Minute),
	}
}

func TestRecentContext(t *testing.T) {
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := RecentContext(ctx, tr, "s1", 3)
			require.NoError(t, err)
			assert.Equal(t, "", got)

			for i := 1; i <= 5; i++ {
				require.NoError(t, tr.Append(ctx, "s1", fmt.Sprintf("question %d", i)))
			}

			got, err = RecentContext(ctx, tr, "s1", 3)
			require.NoError(t, err)
			assert.Equal(t, "User: question 3\nUser: question 4\nUser: question 5", got)

			got, err = RecentContext(ctx, tr, "s1", 10)
			require.NoError(t, err)
			assert.Equal(t, 5, strings.Count(got, "\n")+1)
		})
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	for name, tr := range trackers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Append(ctx, "alice", "what is clause 4?"))
			require.NoError(t, tr.Append(ctx, "", "shared question"))

			got, err := RecentContext(ctx, tr, "alice", DefaultWindow)
			require.NoError(t, err)
			assert.Equal(t, "User: what is clause 4?", got)

			got, err = RecentContext(ctx, tr, "default", DefaultWindow)
			require.NoError(t, err)
			assert.Equal(t, "User: shared question", got)

			require.NoError(t, tr.Clear(ctx, "alice"))
			got, err = RecentContext(ctx, tr, "alice", DefaultWindow)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = RecentContext(ctx, tr, " ", DefaultWindow)
			require.NoError(t, err)
			assert.Equal(t, "User: shared question", got)
		})
	}
}

func TestRedisHistoryExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	tr := NewRedis(client, "test:ttl:", time.Second)
	ctx := context.Background()

	require.NoError(t, tr.Append(ctx, "s", "hello again"))
	mr.FastForward(2 * time.Second)

	recent, err := tr.Recent(ctx, "s", 3)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
