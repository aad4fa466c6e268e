package cachestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cached struct {
	Code string `json:"code"`
	N    int    `json:"n"`
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr, func() {
		client.Close()
		mr.Close()
	}
}

func TestCreateCustomKey_OrderIndependent(t *testing.T) {
	a := CreateCustomKey("entities", map[string]string{"a": "1", "b": "2"})
	b := CreateCustomKey("entities", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, CreateCustomKey("entities", map[string]string{"a": "1", "b": "3"}))
	assert.NotEqual(t, a, CreateCustomKey("other", map[string]string{"a": "1", "b": "2"}))
	assert.Contains(t, a, "entities:")
}

func TestCreateCustomKey_EscapesSeparators(t *testing.T) {
	packed := CreateCustomKey("entities", map[string]string{"doctor": "1&organizationUnit=2"})
	split := CreateCustomKey("entities", map[string]string{"doctor": "1", "organizationUnit": "2"})
	assert.NotEqual(t, packed, split)

	assert.NotEqual(t,
		CreateCustomKey("entities", map[string]string{"a=b": "c"}),
		CreateCustomKey("entities", map[string]string{"a": "b=c"}))
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	store := NewRedisStore(client, "test:")
	ctx := context.Background()

	var out cached
	assert.ErrorIs(t, store.Get(ctx, "k", &out), ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "k", cached{Code: "x", N: 2}, time.Minute))
	require.NoError(t, store.Get(ctx, "k", &out))
	assert.Equal(t, cached{Code: "x", N: 2}, out)
	assert.True(t, mr.Exists("test:k"))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, store.Get(ctx, "k", &out), ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "k2", []string{}, time.Minute))
	var empty []string
	require.NoError(t, store.Get(ctx, "k2", &empty))
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)

	require.NoError(t, store.Delete(ctx, "k2"))
	assert.ErrorIs(t, store.Get(ctx, "k2", &empty), ErrCacheMiss)
}

func TestRedisStore_ConnectionError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	store := NewRedisStore(client, "")
	var out cached
	err = store.Get(context.Background(), "k", &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))
}

type mockDynamo struct {
	items  map[string]map[string]types.AttributeValue
	putErr error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["cacheKey"].(*types.AttributeValueMemberS).Value
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.items[keyOf(input.Item)] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: m.items[keyOf(input.Key)]}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(m.items, keyOf(input.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore_SetGetExpire(t *testing.T) {
	db := newMockDynamo()
	store := NewDynamoStore(db, "scheduling_cache")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", cached{Code: "y"}, time.Hour))
	expires, ok := db.items["k"]["expiresAt"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1767272400", expires.Value)

	var out cached
	require.NoError(t, store.Get(ctx, "k", &out))
	assert.Equal(t, "y", out.Code)

	now = now.Add(2 * time.Hour)
	assert.ErrorIs(t, store.Get(ctx, "k", &out), ErrCacheMiss)

	require.NoError(t, store.Delete(ctx, "k"))
	assert.Empty(t, db.items)
}

func TestDynamoStore_PutError(t *testing.T) {
	db := newMockDynamo()
	db.putErr = errors.New("throttled")
	store := NewDynamoStore(db, "scheduling_cache")
	err := store.Set(context.Background(), "k", cached{}, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", cached{N: 1}, time.Minute))
	var out cached
	require.NoError(t, store.Get(ctx, "k", &out))
	assert.Equal(t, 1, out.N)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, store.Get(ctx, "k", &out), ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "forever", cached{N: 2}, 0))
	now = now.Add(24 * time.Hour)
	require.NoError(t, store.Get(ctx, "forever", &out))
	require.NoError(t, store.Delete(ctx, "forever", "k"))
	assert.Equal(t, 0, store.Len())
}
