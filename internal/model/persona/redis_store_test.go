package persona_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-counsel/backend/internal/model/persona"
)

func newRedisStore(t *testing.T) (*persona.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return persona.NewRedisStore(client, nil), mr
}

func TestRedisStoreSeedAndList(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.SeedIfEmpty(ctx, persona.Seed()))
	require.NoError(t, store.SeedIfEmpty(ctx, persona.Seed()))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"sato", "suzuki", "tanaka"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.True(t, mr.Exists(persona.KeyPrefix+"tanaka"))
}

func TestRedisStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	require.NoError(t, store.SeedIfEmpty(ctx, persona.Seed()))

	tanaka, err := store.FindByID(ctx, "tanaka")
	require.NoError(t, err)
	assert.True(t, tanaka.NGWords.Enabled)
	assert.Equal(t, []string{"カンニング"}, tanaka.NGWords.Words)

	updated, err := store.Update(ctx, "tanaka", persona.Update{Personality: strPtr("落ち着いている")})
	require.NoError(t, err)
	assert.Equal(t, "落ち着いている", updated.Personality)
	assert.Equal(t, tanaka.NGWords, updated.NGWords)
	assert.Equal(t, tanaka.Version+1, updated.Version)

	_, err = store.Create(ctx, persona.Persona{ID: "tanaka", Name: "x", DisplayName: "x"})
	assert.ErrorIs(t, err, persona.ErrInvalidInput)

	require.NoError(t, store.Delete(ctx, "tanaka"))
	_, err = store.FindByID(ctx, "tanaka")
	assert.ErrorIs(t, err, persona.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "tanaka"), persona.ErrNotFound)

	_, err = store.Update(ctx, "tanaka", persona.Update{})
	assert.ErrorIs(t, err, persona.ErrNotFound)
}

func TestRedisStoreSkipsDanglingIndex(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	require.NoError(t, store.SeedIfEmpty(ctx, persona.Seed()))

	mr.Del(persona.KeyPrefix + "suzuki")

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRedisStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)
	require.NoError(t, store.SeedIfEmpty(ctx, persona.Seed()))

	lists := make(chan []persona.Persona, 8)
	unsubscribe, err := store.Subscribe(ctx, func(list []persona.Persona) { lists <- list })
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case initial := <-lists:
		assert.Len(t, initial, 3)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	_, err = store.Update(ctx, "sato", persona.Update{Greeting: strPtr("おはよう")})
	require.NoError(t, err)

	select {
	case next := <-lists:
		require.Len(t, next, 3)
		assert.Equal(t, "おはよう", next[0].Greeting)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
}

func TestRedisStoreSubscriptionEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store, mr := newRedisStore(t)

	unsubscribe, err := store.Subscribe(ctx, func([]persona.Persona) {})
	require.NoError(t, err)
	defer unsubscribe()
	assert.Equal(t, 1, mr.PubSubNumSub(persona.ChangeChannel)[persona.ChangeChannel])

	cancel()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(persona.ChangeChannel)[persona.ChangeChannel] == 0
	}, time.Second, 10*time.Millisecond)
}
