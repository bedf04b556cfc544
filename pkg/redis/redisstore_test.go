package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/internal/testutil"
	"github.com/blue-mimo/image-labelling/pkg/redis"
	"github.com/blue-mimo/image-labelling/pkg/types"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name       string
		opts       []MockOption
		storeOpts  []redis.StoreOption
		behavior   func(t *testing.T, store *redis.Store[string, string])
		finalState map[string]*redisValue
	}{
		{
			name: "normal behavior",
			behavior: func(t *testing.T, store *redis.Store[string, string]) {
				require.NoError(t, store.Set(ctx, "key1", "value1", true))
				require.NoError(t, store.Set(ctx, "key2", "value2", false))
				require.NoError(t, store.Set(ctx, "key3", "value3", true))
				require.NoError(t, store.Set(ctx, "key4", "value4", false))
				require.NoError(t, store.SetExpirable(ctx, "key3", false))
				require.NoError(t, store.SetExpirable(ctx, "key4", true))
				require.Equal(t, "value1", testutil.Must(store.Get(ctx, "key1"))(t))
				require.Equal(t, "value2", testutil.Must(store.Get(ctx, "key2"))(t))
				require.Equal(t, "value3", testutil.Must(store.Get(ctx, "key3"))(t))
				require.Equal(t, "value4", testutil.Must(store.Get(ctx, "key4"))(t))
				_, err := store.Get(ctx, "key5")
				require.ErrorIs(t, err, types.ErrKeyNotFound)
			},
			finalState: map[string]*redisValue{
				"key1": {"value1", redis.DefaultExpire},
				"key2": {"value2", 0},
				"key3": {"value3", 0},
				"key4": {"value4", redis.DefaultExpire},
			},
		},
		{
			name:      "custom expiration",
			storeOpts: []redis.StoreOption{redis.WithExpiration(5 * time.Minute)},
			behavior: func(t *testing.T, store *redis.Store[string, string]) {
				require.NoError(t, store.Set(ctx, "key1", "value1", true))
			},
			finalState: map[string]*redisValue{
				"key1": {"value1", 5 * time.Minute},
			},
		},
		{
			name: "get errors",
			opts: []MockOption{WithErrorOnGet(errors.New("something went wrong"))},
			behavior: func(t *testing.T, store *redis.Store[string, string]) {
				_, err := store.Get(ctx, "key1")
				require.EqualError(t, err, "error accessing redis: something went wrong")
			},
		},
		{
			name: "set errors",
			opts: []MockOption{WithErrorOnSet(errors.New("something went wrong"))},
			behavior: func(t *testing.T, store *redis.Store[string, string]) {
				err := store.Set(ctx, "key1", "value1", true)
				require.EqualError(t, err, "error accessing redis: something went wrong")
			},
		},
		{
			name: "set expiration errors",
			opts: []MockOption{WithErrorOnSetExpiration(errors.New("something went wrong"))},
			behavior: func(t *testing.T, store *redis.Store[string, string]) {
				err := store.SetExpirable(ctx, "key1", true)
				require.EqualError(t, err, "error accessing redis: something went wrong")
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			mockRedis := NewMockRedis(testCase.opts...)
			redisStore := redis.NewStore(
				func(s string) (string, error) { return s, nil },
				func(s string) (string, error) { return s, nil },
				func(s string) string { return s },
				mockRedis,
				testCase.storeOpts...)
			testCase.behavior(t, redisStore)
			expectedFinalState := testCase.finalState
			if expectedFinalState == nil {
				expectedFinalState = make(map[string]*redisValue)
			}
			require.Equal(t, expectedFinalState, mockRedis.data)
		})
	}
}

func TestSuggestionStore(t *testing.T) {
	ctx := context.Background()
	mockRedis := NewMockRedis()
	store := redis.NewSuggestionStore(mockRedis)

	require.NoError(t, store.Set(ctx, "do", []string{"dog", "dolphin"}, true))
	require.NoError(t, store.Set(ctx, "zz", nil, true))

	require.Equal(t, []string{"dog", "dolphin"}, testutil.Must(store.Get(ctx, "do"))(t))
	require.Equal(t, []string{}, testutil.Must(store.Get(ctx, "zz"))(t))
	_, err := store.Get(ctx, "ca")
	require.ErrorIs(t, err, types.ErrKeyNotFound)

	require.Equal(t, map[string]*redisValue{
		"suggestions:do": {`["dog","dolphin"]`, redis.DefaultExpire},
		"suggestions:zz": {`[]`, redis.DefaultExpire},
	}, mockRedis.data)

	mockRedis.data["suggestions:bad"] = &redisValue{"{", 0}
	_, err = store.Get(ctx, "bad")
	require.Error(t, err)
}

func TestMapStore(t *testing.T) {
	ctx := context.Background()
	store := redis.NewSuggestionStore(redis.NewMapStore(), redis.WithExpiration(time.Millisecond))

	require.NoError(t, store.Set(ctx, "ca", []string{"cat"}, false))
	require.NoError(t, store.Set(ctx, "do", []string{"dog"}, true))
	require.Equal(t, []string{"cat"}, testutil.Must(store.Get(ctx, "ca"))(t))

	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, "do")
		return errors.Is(err, types.ErrKeyNotFound)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.SetExpirable(ctx, "ca", true))
	require.NoError(t, store.SetExpirable(ctx, "ca", false))
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, []string{"cat"}, testutil.Must(store.Get(ctx, "ca"))(t))
}

type redisValue struct {
	data    string
	expires time.Duration
}

type MockRedis struct {
	data             map[string]*redisValue
	errGet           error
	errSet           error
	errSetExpiration error
}

var _ redis.Client = (*MockRedis)(nil)

type MockOption func(*MockRedis)

func WithErrorOnGet(err error) MockOption {
	return func(m *MockRedis) {
		m.errGet = err
	}
}

func WithErrorOnSet(err error) MockOption {
	return func(m *MockRedis) {
		m.errSet = err
	}
}

func WithErrorOnSetExpiration(err error) MockOption {
	return func(m *MockRedis) {
		m.errSetExpiration = err
	}
}

func NewMockRedis(opts ...MockOption) *MockRedis {
	m := &MockRedis{data: make(map[string]*redisValue)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Expire implements redis.Client.
func (m *MockRedis) Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	cmd := goredis.NewBoolCmd(ctx, nil)
	if m.errSetExpiration != nil {
		cmd.SetErr(m.errSetExpiration)
		return cmd
	}
	val, ok := m.data[key]
	if ok && val.expires != expiration {
		val.expires = expiration
		cmd.SetVal(true)
	}
	return cmd
}

// Get implements redis.Client.
func (m *MockRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	cmd := goredis.NewStringCmd(ctx, nil)
	if m.errGet != nil {
		cmd.SetErr(m.errGet)
		return cmd
	}
	val, ok := m.data[key]
	if !ok {
		cmd.SetErr(goredis.Nil)
	} else {
		cmd.SetVal(val.data)
	}
	return cmd
}

// Persist implements redis.Client.
func (m *MockRedis) Persist(ctx context.Context, key string) *goredis.BoolCmd {
	cmd := goredis.NewBoolCmd(ctx, nil)
	if m.errSetExpiration != nil {
		cmd.SetErr(m.errSetExpiration)
		return cmd
	}
	val, ok := m.data[key]
	if ok && val.expires != 0 {
		val.expires = 0
		cmd.SetVal(true)
	}
	return cmd
}

// Set implements redis.Client.
func (m *MockRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx, nil)
	if m.errSet != nil {
		cmd.SetErr(m.errSet)
		return cmd
	}
	m.data[key] = &redisValue{value.(string), expiration}
	return cmd
}
