package redis

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type mapStoreValue struct {
	data    string
	expires time.Time
}

// MapStore is an in-process stand in for a redis server, used when the
// service runs locally without one.
type MapStore struct {
	mu   sync.Mutex
	data map[string]*mapStoreValue
}

var _ Client = (*MapStore)(nil)

func NewMapStore() *MapStore {
	return &MapStore{data: make(map[string]*mapStoreValue)}
}

func (m *MapStore) Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewBoolCmd(ctx, nil)
	val, ok := m.data[key]
	if ok {
		val.expires = time.Now().Add(expiration)
		cmd.SetVal(true)
	}
	return cmd
}

func (m *MapStore) Get(ctx context.Context, key string) *goredis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewStringCmd(ctx, nil)
	val, ok := m.data[key]
	switch {
	case !ok:
		cmd.SetErr(goredis.Nil)
	case !val.expires.IsZero() && val.expires.Before(time.Now()):
		delete(m.data, key)
		cmd.SetErr(goredis.Nil)
	default:
		cmd.SetVal(val.data)
	}
	return cmd
}

func (m *MapStore) Persist(ctx context.Context, key string) *goredis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewBoolCmd(ctx, nil)
	val, ok := m.data[key]
	if ok && !val.expires.IsZero() {
		val.expires = time.Time{}
		cmd.SetVal(true)
	}
	return cmd
}

func (m *MapStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := goredis.NewStatusCmd(ctx, nil)
	var expires time.Time
	if expiration > 0 {
		expires = time.Now().Add(expiration)
	}
	m.data[key] = &mapStoreValue{value.(string), expires}
	cmd.SetVal("OK")
	return cmd
}
