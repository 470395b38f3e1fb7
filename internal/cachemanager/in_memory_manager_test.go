package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	})
}

type scoredBoard struct {
	Score float64
	Class string
}

func TestNewInMemoryCacheManager_GetExistingValue_StructType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, scoredBoard]("analysis", DefaultExpiration, DefaultCleanupInterval)
	want := scoredBoard{
		Score: 0.72,
		Class: "good",
	}
	cache.Set(context.Background(), "board:demo", want, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "board:demo")
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestNewInMemoryCacheManager_GetExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "board:demo", "good", DefaultExpiration)

	got, ok := cache.Get(context.Background(), "board:demo")
	require.True(t, ok)
	require.Equal(t, "good", got)
}

func TestNewInMemoryCacheManager_GetWithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "board:demo")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestNewInMemoryCacheManager_GetWithExistingInvalidValueType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)

	cache.cache.Set("board:demo", 123, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "board:demo")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestNewInMemoryCacheManager_TypedKeys(t *testing.T) {
	type boardKey string

	cache := NewInMemoryCacheManager[boardKey, string]("analysis", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), boardKey("demo"), "excellent", DefaultExpiration)

	got, ok := cache.Get(context.Background(), boardKey("demo"))
	require.True(t, ok)
	require.Equal(t, "excellent", got)
}

func TestNewInMemoryCacheManager_GetWithRefresh_WithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.GetWithRefresh(context.Background(), "board:demo", time.Minute*60)
	require.False(t, ok)
	require.Equal(t, "", got)
}

func TestNewInMemoryCacheManager_GetWithRefresh_WithExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "board:demo", "good", DefaultExpiration)

	got, ok := cache.GetWithRefresh(context.Background(), "board:demo", time.Minute*60)
	require.True(t, ok)
	require.Equal(t, "good", got)
}

func TestNewInMemoryCacheManager_SetWithZeroTTLUsesDefault(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "board:demo", "basic", 0)

	got, ok := cache.Get(context.Background(), "board:demo")
	require.True(t, ok)
	require.Equal(t, "basic", got)
}

func TestNewInMemoryCacheManager_DeleteWithNoKeysDoesNothing(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)

	err := cache.Delete(context.Background())
	require.NoError(t, err)
}

func TestNewInMemoryCacheManager_DeleteExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "board:demo", "good", DefaultExpiration)

	got, ok := cache.Get(context.Background(), "board:demo")
	require.True(t, ok)
	require.Equal(t, "good", got)

	err := cache.Delete(context.Background(), "board:demo")
	require.NoError(t, err)

	got, ok = cache.Get(context.Background(), "board:demo")
	require.False(t, ok)
	require.Equal(t, "", got)
}

func TestNewInMemoryCacheManager_Flush(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("analysis", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "board:demo", "good", DefaultExpiration)

	got, ok := cache.Get(context.Background(), "board:demo")
	require.True(t, ok)
	require.Equal(t, "good", got)

	err := cache.Flush(context.Background())
	require.NoError(t, err)

	got, ok = cache.Get(context.Background(), "board:demo")
	require.False(t, ok)
	require.Equal(t, "", got)
}
