package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyife/rtcore/internal/cache"
)

func TestMemory_GetMissingKeyReturnsErrNotFound(t *testing.T) {
	m := cache.NewMemory()
	_, err := m.Get(context.Background(), "absent")
	assert.True(t, errors.Is(err, cache.ErrNotFound))
}

func TestMemory_SetThenGetRoundTrips(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemory_SetZeroTTLNeverExpires(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	time.Sleep(10 * time.Millisecond)

	_, err := m.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestMemory_ValueExpiresAfterTTL(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)
	_, err := m.Get(ctx, "k")
	assert.True(t, errors.Is(err, cache.ErrNotFound))
}

func TestMemory_SetNXOnlySucceedsOnce(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock", []byte("token-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "lock", []byte("token-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("token-a"), got, "the losing SetNX must not overwrite the winner's value")
}

func TestMemory_SetNXSucceedsAfterExpiry(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock", []byte("token-a"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	ok, err = m.SetNX(ctx, "lock", []byte("token-b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "an expired lock key must be acquirable again")
}

func TestMemory_CompareAndDeleteRequiresMatchingValue(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "lock", []byte("token-a"), time.Minute))

	ok, err := m.CompareAndDelete(ctx, "lock", []byte("token-b"))
	require.NoError(t, err)
	assert.False(t, ok, "a mismatched token must not release the lock")

	ok, err = m.CompareAndDelete(ctx, "lock", []byte("token-a"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.Get(ctx, "lock")
	assert.True(t, errors.Is(err, cache.ErrNotFound))
}

func TestMemory_CompareAndDeleteOnMissingKeyIsFalse(t *testing.T) {
	m := cache.NewMemory()
	ok, err := m.CompareAndDelete(context.Background(), "absent", []byte("x"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_DeleteRemovesMultipleKeys(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, m.Delete(ctx, "a", "b", "never-existed"))

	_, err := m.Get(ctx, "a")
	assert.True(t, errors.Is(err, cache.ErrNotFound))
	_, err = m.Get(ctx, "b")
	assert.True(t, errors.Is(err, cache.ErrNotFound))
}

func TestMemory_ExpireRefreshesTTLWithoutTouchingValue(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 20*time.Millisecond))

	require.NoError(t, m.Expire(ctx, "k", time.Minute))
	time.Sleep(30 * time.Millisecond)

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemory_ExpireOnMissingKeyIsNoOp(t *testing.T) {
	m := cache.NewMemory()
	assert.NoError(t, m.Expire(context.Background(), "absent", time.Minute))
}

func TestMemory_ExpireWithZeroTTLClearsExpiry(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	require.NoError(t, m.Expire(ctx, "k", 0))

	time.Sleep(30 * time.Millisecond)
	_, err := m.Get(ctx, "k")
	assert.NoError(t, err, "a zero-TTL Expire call clears expiry entirely")
}
