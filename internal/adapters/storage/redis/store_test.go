package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/compass-agent/internal/adapters/storage/redis"
	"github.com/PabloGalante/compass-agent/internal/adapters/storage/storetest"
	"github.com/PabloGalante/compass-agent/internal/domain"
)

func newStore(t *testing.T, cfg redis.Config) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	st, err := redis.NewStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisStores(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Stores {
		st, _ := newStore(t, redis.Config{})
		return storetest.Stores{Sessions: st, Messages: st, Journal: st}
	})
}

func TestRedisKeysUsePrefixAndTTL(t *testing.T) {
	st, mr := newStore(t, redis.Config{Prefix: "test", TTL: time.Hour})
	ctx := context.Background()

	sess := &domain.Session{ID: "s", UserID: "u", CreatedAt: time.Now()}
	require.NoError(t, st.CreateSession(ctx, sess))
	require.NoError(t, st.AppendMessage(ctx, domain.NewSentinelMessage("s", time.Now())))

	assert.True(t, mr.Exists("test:session:s"))
	assert.True(t, mr.Exists("test:messages:s"))
	assert.Equal(t, time.Hour, mr.TTL("test:session:s"))
	assert.Equal(t, time.Hour, mr.TTL("test:messages:s"))

	mr.FastForward(2 * time.Hour)
	_, err := st.GetSession(ctx, "s")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// the user index outlives the session; listing skips it
	list, err := st.ListSessionsByUser(ctx, "u", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewStoreFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := redis.NewStore(context.Background(), redis.Config{Addr: addr})
	assert.Error(t, err)
}

func TestNewStoreWithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	st := redis.NewStoreWithClient(client, redis.Config{})
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.CreateSession(context.Background(), &domain.Session{ID: "s", UserID: "u"}))
	assert.True(t, mr.Exists("compass:session:s"))
}
