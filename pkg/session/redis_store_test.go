package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubStatusCmd struct{ err error }

func (c stubStatusCmd) Err() error { return c.err }

type stubStringCmd struct {
	data []byte
	err  error
}

func (c stubStringCmd) Bytes() ([]byte, error) { return c.data, c.err }
func (c stubStringCmd) Err() error             { return c.err }

type stubIntCmd struct{ err error }

func (c stubIntCmd) Err() error { return c.err }

type stubBoolCmd struct{ err error }

func (c stubBoolCmd) Err() error { return c.err }

type stubSetCall struct {
	key        string
	value      interface{}
	expiration time.Duration
}

type stubPipeline struct {
	mu   sync.Mutex
	sets []stubSetCall
	err  error
}

func (p *stubPipeline) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets = append(p.sets, stubSetCall{key: key, value: value, expiration: expiration})
	return stubStatusCmd{}
}

func (p *stubPipeline) Exec(ctx context.Context) ([]interface{}, error) {
	return nil, p.err
}

type stubExpireCall struct {
	key        string
	expiration time.Duration
}

// stubRedis is an in-memory double for the go-redis client surface the
// store uses. Set payloads are retained so Get can serve them back.
type stubRedis struct {
	mu sync.Mutex

	sets    []stubSetCall
	gets    []string
	dels    [][]string
	expires []stubExpireCall

	values map[string][]byte

	pipe *stubPipeline
}

func (c *stubRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, stubSetCall{key: key, value: value, expiration: expiration})
	if data, ok := value.([]byte); ok {
		if c.values == nil {
			c.values = make(map[string][]byte)
		}
		c.values[key] = data
	}
	return stubStatusCmd{}
}

func (c *stubRedis) Get(ctx context.Context, key string) RedisStringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets = append(c.gets, key)
	if data, ok := c.values[key]; ok {
		return stubStringCmd{data: data}
	}
	return stubStringCmd{err: ErrRedisNil}
}

func (c *stubRedis) Del(ctx context.Context, keys ...string) RedisIntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dels = append(c.dels, keys)
	for _, key := range keys {
		delete(c.values, key)
	}
	return stubIntCmd{}
}

func (c *stubRedis) Expire(ctx context.Context, key string, expiration time.Duration) RedisBoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires = append(c.expires, stubExpireCall{key: key, expiration: expiration})
	return stubBoolCmd{}
}

func (c *stubRedis) Pipeline() RedisPipeliner {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipe == nil {
		c.pipe = &stubPipeline{}
	}
	return c.pipe
}

func (c *stubRedis) Close() error { return nil }

func TestRedisStore_RoundTripRestoresSession(t *testing.T) {
	client := &stubRedis{}
	store := NewRedisStore(client)

	ctx := context.Background()
	if err := store.Save(ctx, "s1", mixerSnapshot(t), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	client.mu.Lock()
	if len(client.sets) != 1 {
		client.mu.Unlock()
		t.Fatalf("Set calls got %d want 1", len(client.sets))
	}
	set := client.sets[0]
	client.mu.Unlock()

	if set.key != "param:session:s1" {
		t.Fatalf("Set key got %q", set.key)
	}
	// The resume window becomes the key's TTL.
	if set.expiration <= 0 || set.expiration > time.Minute {
		t.Fatalf("Set TTL got %v", set.expiration)
	}

	snap, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap == nil {
		t.Fatal("Load() got nil")
	}

	inst := restoreMixer(t, snap)
	if got := inst.MustGet("gain"); got != 7.5 {
		t.Errorf("gain = %v, want 7.5", got)
	}
	if got := inst.MustGet("channel"); got != "left" {
		t.Errorf("channel = %v, want left", got)
	}
}

func TestRedisStore_PrefixAndKeying(t *testing.T) {
	client := &stubRedis{}
	store := NewRedisStore(client, WithRedisPrefix("pfx:"))

	if store.Prefix() != "pfx:" {
		t.Fatalf("Prefix() got %q", store.Prefix())
	}
	if store.key("abc") != "pfx:abc" {
		t.Fatalf("key() got %q", store.key("abc"))
	}
}

func TestRedisStore_Save_ExpiredDeletes(t *testing.T) {
	client := &stubRedis{}
	store := NewRedisStore(client)

	err := store.Save(context.Background(), "s1", mixerSnapshot(t), time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.dels) != 1 {
		t.Fatalf("Del calls got %d want 1", len(client.dels))
	}
	if got := client.dels[0][0]; got != "param:session:s1" {
		t.Fatalf("Del key got %q", got)
	}
	if len(client.sets) != 0 {
		t.Fatalf("Set calls got %d want 0", len(client.sets))
	}
}

func TestRedisStore_Load_MissingReturnsNil(t *testing.T) {
	client := &stubRedis{}
	store := NewRedisStore(client)

	snap, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap != nil {
		t.Fatalf("Load() got %v want nil", snap)
	}
}

func TestRedisStore_Load_RejectsForeignVersion(t *testing.T) {
	client := &stubRedis{
		values: map[string][]byte{
			"param:session:s1": []byte(`{"version":99,"roots":{}}`),
		},
	}
	store := NewRedisStore(client)

	var uve UnsupportedVersionError
	if _, err := store.Load(context.Background(), "s1"); !errors.As(err, &uve) {
		t.Fatalf("Load() error = %v, want UnsupportedVersionError", err)
	} else if uve.Version != 99 {
		t.Errorf("version = %d, want 99", uve.Version)
	}
}

func TestRedisStore_Touch_ExpiredDeletes(t *testing.T) {
	client := &stubRedis{}
	store := NewRedisStore(client)

	err := store.Touch(context.Background(), "s1", time.Now().Add(-time.Second))
	if err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.dels) != 1 {
		t.Fatalf("Del calls got %d want 1", len(client.dels))
	}
	if len(client.expires) != 0 {
		t.Fatalf("Expire calls got %d want 0", len(client.expires))
	}
}

func TestRedisStore_SaveAll_SkipsExpiredAndPipelines(t *testing.T) {
	client := &stubRedis{}
	store := NewRedisStore(client)

	now := time.Now()
	snap := mixerSnapshot(t)
	err := store.SaveAll(context.Background(), map[string]StoredSnapshot{
		"alive": {Snap: snap, ExpiresAt: now.Add(time.Minute)},
		"stale": {Snap: snap, ExpiresAt: now.Add(-time.Second)},
	})
	if err != nil {
		t.Fatalf("SaveAll() error: %v", err)
	}

	p := client.pipe
	if p == nil {
		t.Fatal("Pipeline() was not used")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sets) != 1 {
		t.Fatalf("pipeline sets got %d want 1", len(p.sets))
	}
	if p.sets[0].key != "param:session:alive" {
		t.Fatalf("pipeline key got %q", p.sets[0].key)
	}
	data, ok := p.sets[0].value.([]byte)
	if !ok {
		t.Fatalf("pipeline value is %T, want []byte", p.sets[0].value)
	}
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("pipelined payload does not decode: %v", err)
	}
	if string(decoded.Roots["mixer"]["gain"]) != "7.5" {
		t.Errorf("pipelined mixer.gain = %s", decoded.Roots["mixer"]["gain"])
	}
}

func TestRedisStore_Close_MakesOperationsFail(t *testing.T) {
	client := &stubRedis{}
	store := NewRedisStore(client)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, "s", mixerSnapshot(t), time.Now().Add(time.Minute)); err == nil {
		t.Fatal("Save() expected error after Close, got nil")
	}
	if _, err := store.Load(ctx, "s"); err == nil {
		t.Fatal("Load() expected error after Close, got nil")
	}
	if err := store.Delete(ctx, "s"); err == nil {
		t.Fatal("Delete() expected error after Close, got nil")
	}
	if err := store.Touch(ctx, "s", time.Now().Add(time.Minute)); err == nil {
		t.Fatal("Touch() expected error after Close, got nil")
	}
	if err := store.SaveAll(ctx, map[string]StoredSnapshot{}); err == nil {
		t.Fatal("SaveAll() expected error after Close, got nil")
	}
}
