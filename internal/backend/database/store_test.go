package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) map[string]SubscriptionStore {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "subscriptions.json"))
	require.NoError(t, err)

	sqlStore, err := NewSQLStore(TypeSQLite, ":memory:")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	redisStore := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	stores := map[string]SubscriptionStore{
		TypeFile:   fileStore,
		TypeSQLite: sqlStore,
		TypeRedis:  redisStore,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func sub(endpoint string) Subscription {
	return Subscription{Endpoint: endpoint, Keys: Keys{P256dh: "p-" + endpoint, Auth: "a-" + endpoint}}
}

func TestStores_AddIsUniqueByEndpoint(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			added, err := store.Add(ctx, sub("https://push.example/a"))
			require.NoError(t, err)
			assert.True(t, added)

			added, err = store.Add(ctx, sub("https://push.example/a"))
			require.NoError(t, err)
			assert.False(t, added, "duplicate endpoint must be ignored")

			_, err = store.Add(ctx, sub("https://push.example/b"))
			require.NoError(t, err)

			subs, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 2)
			assert.Equal(t, "https://push.example/a", subs[0].Endpoint)
			assert.Equal(t, "https://push.example/b", subs[1].Endpoint)
			assert.Equal(t, "a-https://push.example/a", subs[0].Keys.Auth)
		})
	}
}

func TestStores_ReplaceSwapsWholeSet(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, e := range []string{"https://push.example/1", "https://push.example/2", "https://push.example/3"} {
				_, err := store.Add(ctx, sub(e))
				require.NoError(t, err)
			}

			exp := int64(1700000000000)
			survivor := sub("https://push.example/3")
			survivor.ExpirationTime = &exp
			require.NoError(t, store.Replace(ctx, []Subscription{survivor}))

			subs, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			assert.Equal(t, "https://push.example/3", subs[0].Endpoint)
			require.NotNil(t, subs[0].ExpirationTime)
			assert.Equal(t, exp, *subs[0].ExpirationTime)

			require.NoError(t, store.Replace(ctx, nil))
			subs, err = store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, subs)
		})
	}
}

func TestStores_ListEmpty(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			subs, err := store.List(context.Background())
			require.NoError(t, err)
			assert.NotNil(t, subs)
			assert.Empty(t, subs)
		})
	}
}

func TestFileStore_CorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.List(context.Background())
	assert.Error(t, err)
}

func TestFileStore_ReplaceLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "subscriptions.json"))
	require.NoError(t, err)
	require.NoError(t, store.Replace(context.Background(), []Subscription{sub("https://push.example/x")}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "subscriptions.json", entries[0].Name())
}

func TestNewSubscriptionStore_Unsupported(t *testing.T) {
	_, err := NewSubscriptionStore("mongodb", "whatever")
	assert.Error(t, err)
}
