// Package redisindex implements a store index kept in Redis so that several
// processes can share one eviction order and one size total.
//
// All keys live under a single hash tag ("{prefix}:...") so that every script
// touches one cluster slot, and every key a script touches is passed in KEYS:
//
//	{prefix}:order        sorted set, member -> insertion sequence
//	{prefix}:sizes        hash, member -> size in bytes
//	{prefix}:total        integer, sum of all sizes
//	{prefix}:seq          high sequence, used by pushes and FIFO marks
//	{prefix}:lowseq       low sequence, used by LIFO marks
//	{prefix}:store:<id>   set of members belonging to one store
//
// A member is the msgpack encoding of [storeID, key].
package redisindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/discochess/chunkcache/internal/index"
)

// Compile-time checks that Index implements index.Index and io.Closer.
var (
	_ index.Index = (*Index)(nil)
	_ io.Closer   = (*Index)(nil)
)

// KEYS: order, sizes, total, seq, store set. ARGV: member, size.
var pushScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[2], ARGV[1])
if old then
    redis.call('DECRBY', KEYS[3], old)
end
local seq = redis.call('INCR', KEYS[4])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('INCRBY', KEYS[3], ARGV[2])
redis.call('SADD', KEYS[5], ARGV[1])
return 1
`)

// KEYS: order, sizes, total. ARGV: "min" or "max".
var popScript = redis.NewScript(`
local res
if ARGV[1] == 'max' then
    res = redis.call('ZPOPMAX', KEYS[1])
else
    res = redis.call('ZPOPMIN', KEYS[1])
end
if #res == 0 then
    return false
end
local member = res[1]
local size = redis.call('HGET', KEYS[2], member) or '0'
redis.call('HDEL', KEYS[2], member)
redis.call('DECRBY', KEYS[3], size)
return {member, size}
`)

// KEYS: sizes, store set. ARGV: member.
// Leaves the member alone if it was pushed again since the pop.
var unlinkScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
    redis.call('SREM', KEYS[2], ARGV[1])
end
return 1
`)

// KEYS: order, seq, lowseq. ARGV: member, "high" or "low".
var markScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
    return 0
end
local seq
if ARGV[2] == 'low' then
    seq = redis.call('DECR', KEYS[3])
else
    seq = redis.call('INCR', KEYS[2])
end
redis.call('ZADD', KEYS[1], seq, ARGV[1])
return 1
`)

// KEYS: order, sizes, total, store set. ARGV: member.
var deleteScript = redis.NewScript(`
local size = redis.call('HGET', KEYS[2], ARGV[1])
if not size then
    return '0'
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
redis.call('DECRBY', KEYS[3], size)
return size
`)

// KEYS: order, sizes, total, store set.
var deleteStoreScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[4])
local removed = 0
for _, m in ipairs(members) do
    local size = redis.call('HGET', KEYS[2], m)
    if size then
        removed = removed + tonumber(size)
        redis.call('HDEL', KEYS[2], m)
        redis.call('ZREM', KEYS[1], m)
    end
end
redis.call('DEL', KEYS[4])
if removed ~= 0 then
    redis.call('DECRBY', KEYS[3], removed)
end
return removed
`)

// Index is a Redis-backed index.Index.
type Index struct {
	rdb     redis.UniversalClient
	prefix  string
	policy  index.Policy
	maxSize int64
	bounded bool
}

// Option configures an Index.
type Option func(*Index)

// WithPolicy sets the eviction policy. Default is FIFO.
func WithPolicy(p index.Policy) Option {
	return func(i *Index) {
		i.policy = p
	}
}

// WithMaxSize sets the size ceiling reported by MaxSize.
func WithMaxSize(n int64) Option {
	return func(i *Index) {
		i.maxSize = n
		i.bounded = true
	}
}

// New creates an index stored under prefix. Processes sharing a prefix share
// the index; they must agree on the policy.
func New(client redis.UniversalClient, prefix string, opts ...Option) *Index {
	i := &Index{
		rdb:    client,
		prefix: prefix,
		policy: index.FIFO,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Close closes the Redis client. The index takes ownership of the client it
// was created with.
func (i *Index) Close() error {
	return i.rdb.Close()
}

func (i *Index) key(name string) string { return "{" + i.prefix + "}:" + name }

func (i *Index) storeKey(storeID string) string { return i.key("store:") + storeID }

// MaxSize returns the configured ceiling.
func (i *Index) MaxSize() (int64, bool) {
	return i.maxSize, i.bounded
}

// CurrentSize returns the shared size total.
func (i *Index) CurrentSize(ctx context.Context) (int64, error) {
	n, err := i.rdb.Get(ctx, i.key("total")).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis index total: %w", err)
	}
	return n, nil
}

// PushKey inserts or replaces an entry at the newest end.
func (i *Index) PushKey(ctx context.Context, storeID, key string, size int64) error {
	member, err := encodeMember(storeID, key)
	if err != nil {
		return err
	}
	keys := []string{i.key("order"), i.key("sizes"), i.key("total"), i.key("seq"), i.storeKey(storeID)}
	if err := pushScript.Run(ctx, i.rdb, keys, member, size).Err(); err != nil {
		return fmt.Errorf("redis index push: %w", err)
	}
	return nil
}

// PopKey removes the lowest-sequence entry under FIFO and the highest under LIFO.
func (i *Index) PopKey(ctx context.Context) (index.Entry, error) {
	end := "min"
	if i.policy == index.LIFO {
		end = "max"
	}
	keys := []string{i.key("order"), i.key("sizes"), i.key("total")}
	res, err := popScript.Run(ctx, i.rdb, keys, end).Slice()
	if errors.Is(err, redis.Nil) {
		return index.Entry{}, index.ErrUnderflow
	}
	if err != nil {
		return index.Entry{}, fmt.Errorf("redis index pop: %w", err)
	}
	if len(res) != 2 {
		return index.Entry{}, fmt.Errorf("redis index pop: unexpected reply %v", res)
	}

	member, _ := res[0].(string)
	storeID, key, err := decodeMember(member)
	if err != nil {
		return index.Entry{}, err
	}
	size, err := parseSize(res[1])
	if err != nil {
		return index.Entry{}, err
	}

	// Popped members missing from sizes are skipped by DeleteStore, so a
	// failure here leaves only a harmless stale set member.
	unlinkKeys := []string{i.key("sizes"), i.storeKey(storeID)}
	if err := unlinkScript.Run(ctx, i.rdb, unlinkKeys, member).Err(); err != nil {
		return index.Entry{}, fmt.Errorf("redis index unlink: %w", err)
	}
	return index.Entry{StoreID: storeID, Key: key, Size: size}, nil
}

// MarkKey rescores an entry so that the policy pops it last.
func (i *Index) MarkKey(ctx context.Context, storeID, key string) error {
	member, err := encodeMember(storeID, key)
	if err != nil {
		return err
	}
	end := "high"
	if i.policy == index.LIFO {
		end = "low"
	}
	keys := []string{i.key("order"), i.key("seq"), i.key("lowseq")}
	if err := markScript.Run(ctx, i.rdb, keys, member, end).Err(); err != nil {
		return fmt.Errorf("redis index mark: %w", err)
	}
	return nil
}

// DeleteKey removes an entry and returns its size.
func (i *Index) DeleteKey(ctx context.Context, storeID, key string) (int64, error) {
	member, err := encodeMember(storeID, key)
	if err != nil {
		return 0, err
	}
	keys := []string{i.key("order"), i.key("sizes"), i.key("total"), i.storeKey(storeID)}
	res, err := deleteScript.Run(ctx, i.rdb, keys, member).Result()
	if err != nil {
		return 0, fmt.Errorf("redis index delete: %w", err)
	}
	return parseSize(res)
}

// DeleteStore removes all entries of storeID.
func (i *Index) DeleteStore(ctx context.Context, storeID string) (int64, error) {
	keys := []string{i.key("order"), i.key("sizes"), i.key("total"), i.storeKey(storeID)}
	res, err := deleteStoreScript.Run(ctx, i.rdb, keys).Result()
	if err != nil {
		return 0, fmt.Errorf("redis index delete store: %w", err)
	}
	return parseSize(res)
}

func encodeMember(storeID, key string) (string, error) {
	b, err := msgpack.Marshal([]string{storeID, key})
	if err != nil {
		return "", fmt.Errorf("encoding index member: %w", err)
	}
	return string(b), nil
}

func decodeMember(member string) (storeID, key string, err error) {
	var pair []string
	if err := msgpack.Unmarshal([]byte(member), &pair); err != nil {
		return "", "", fmt.Errorf("decoding index member: %w", err)
	}
	if len(pair) != 2 {
		return "", "", fmt.Errorf("decoding index member: got %d fields, want 2", len(pair))
	}
	return pair[0], pair[1], nil
}

func parseSize(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("redis index size parse: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("redis index size parse: unexpected %T", v)
	}
}
