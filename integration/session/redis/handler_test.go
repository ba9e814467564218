package redis_test

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/appserver/core/session"
	"github.com/dmitrymomot/appserver/integration/session/redis"
)

// memClient is an in-memory stand-in for the Redis commands Handler uses.
type memClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
}

func newMemClient() *memClient {
	return &memClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memClient) Get(_ context.Context, key string) *goredis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet != nil {
		return goredis.NewStringResult("", c.failGet)
	}
	v, ok := c.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (c *memClient) Set(_ context.Context, key string, value any, exp time.Duration) *goredis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value.(string)
	c.ttls[key] = exp
	return goredis.NewStatusResult("OK", nil)
}

func (c *memClient) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.values[k]; ok {
			delete(c.values, k)
			delete(c.ttls, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

// Scan returns one key per call to exercise cursor handling.
func (c *memClient) Scan(_ context.Context, cursor uint64, match string, _ int64) *goredis.ScanCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.values {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if int(cursor) >= len(keys) {
		return goredis.NewScanCmdResult(nil, 0, nil)
	}
	next := cursor + 1
	if int(next) >= len(keys) {
		next = 0
	}
	return goredis.NewScanCmdResult(keys[cursor:cursor+1], next, nil)
}

func (c *memClient) ttl(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[key]
}

func newID(t *testing.T) string {
	t.Helper()
	id, err := session.NewID()
	require.NoError(t, err)
	return id
}

func TestHandler_SaveLoadDelete(t *testing.T) {
	t.Parallel()

	client := newMemClient()
	h, err := redis.New(client)
	require.NoError(t, err)
	ctx := context.Background()

	id := newID(t)
	s := session.New(id, "SESSID", session.Attributes{Path: "/", MaximumAge: 60})
	require.NoError(t, s.Set("user", "alice"))
	require.NoError(t, h.Save(ctx, s))

	ttl := client.ttl(h.Key(id))
	assert.Greater(t, ttl, 50*time.Second)
	assert.LessOrEqual(t, ttl, 60*time.Second)

	loaded, err := h.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, s.Checksum(), loaded.Checksum())

	require.NoError(t, h.Delete(ctx, id))
	_, err = h.Load(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotFound)

	assert.NoError(t, h.Delete(ctx, id), "deleting a missing session is not an error")
}

func TestHandler_SaveWithoutExpiry(t *testing.T) {
	t.Parallel()

	client := newMemClient()
	h, err := redis.New(client, redis.WithPrefix("p:"))
	require.NoError(t, err)

	id := newID(t)
	require.NoError(t, h.Save(context.Background(), session.New(id, "SESSID", session.Attributes{})))
	assert.Equal(t, time.Duration(0), client.ttl("p:"+id))
}

func TestHandler_SaveExpiredDeletes(t *testing.T) {
	t.Parallel()

	client := newMemClient()
	h, err := redis.New(client, redis.WithClock(func() time.Time { return time.Now().Add(time.Hour) }))
	require.NoError(t, err)
	ctx := context.Background()

	id := newID(t)
	client.values[h.Key(id)] = "stale"
	require.NoError(t, h.Save(ctx, session.New(id, "SESSID", session.Attributes{MaximumAge: 60})))

	_, err = h.Load(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestHandler_LoadCorrupt(t *testing.T) {
	t.Parallel()

	client := newMemClient()
	h, err := redis.New(client)
	require.NoError(t, err)

	id := newID(t)
	client.values[h.Key(id)] = "{not json"

	_, err = h.Load(context.Background(), id)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.NotContains(t, client.values, h.Key(id))
}

func TestHandler_LoadError(t *testing.T) {
	t.Parallel()

	client := newMemClient()
	client.failGet = errors.New("connection refused")
	h, err := redis.New(client)
	require.NoError(t, err)

	_, err = h.Load(context.Background(), newID(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrNotFound)
}

func TestHandler_ExpireAndLoadRecent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := now
	client := newMemClient()
	h, err := redis.New(client, redis.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	ctx := context.Background()

	fresh := session.New(newID(t), "SESSID", session.Attributes{})
	idle := session.New(newID(t), "SESSID", session.Attributes{MaximumAge: 60})
	require.NoError(t, h.Save(ctx, fresh))
	require.NoError(t, h.Save(ctx, idle))

	recent, err := h.LoadRecent(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	recent, err = h.LoadRecent(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, recent)

	clock = now.Add(2 * time.Minute)
	removed, err := h.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = h.Load(ctx, idle.ID())
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = h.Load(ctx, fresh.ID())
	assert.NoError(t, err)
}

func TestHandler_DetachedSessionStaysLoadable(t *testing.T) {
	t.Parallel()

	const timeout = time.Minute
	ctx := context.Background()
	clock := time.Now()
	now := func() time.Time { return clock }

	client := newMemClient()
	h, err := redis.New(client, redis.WithInactivityTimeout(timeout), redis.WithClock(now))
	require.NoError(t, err)

	m := session.NewManager(session.DefaultSettings(), session.WithHandlers(h))
	p := session.NewPersistenceManager(m,
		session.WithPersistenceInactivityTimeout(timeout),
		session.WithPersistenceClock(now),
	)

	id := newID(t)
	s, err := m.Create(ctx, id, "")
	require.NoError(t, err)
	require.NoError(t, s.Set("cart", 3))
	require.Equal(t, 1, p.Pass(ctx).Written)

	clock = clock.Add(2 * timeout)
	require.Equal(t, 1, p.Pass(ctx).Detached)
	assert.Equal(t, timeout, client.ttl(h.Key(id)), "TTL counts from the detach")

	removed, err := h.Expire(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	loaded, err := h.Load(ctx, id)
	require.NoError(t, err)
	var cart int
	require.NoError(t, loaded.Get("cart", &cart))
	assert.Equal(t, 3, cart)

	found, err := m.Find(ctx, id)
	require.NoError(t, err)
	assert.NotSame(t, s, found)
}

func TestNew_NilClient(t *testing.T) {
	t.Parallel()

	_, err := redis.New(nil)
	assert.ErrorIs(t, err, session.ErrNilHandler)
}
