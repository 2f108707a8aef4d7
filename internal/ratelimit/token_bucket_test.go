package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/stretchr/testify/require"
)

type scriptReply struct {
	val any
	err error
}

// fakeScripter answers EvalSha with queued replies and records the keys used.
type fakeScripter struct {
	replies []scriptReply
	keys    []string
	args    [][]any
}

func (f *fakeScripter) next(keys []string, args []any) *redis.Cmd {
	f.keys = append(f.keys, keys...)
	f.args = append(f.args, args)
	if len(f.replies) == 0 {
		return redis.NewCmdResult(nil, errors.New("no reply queued"))
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return redis.NewCmdResult(r.val, r.err)
}

func (f *fakeScripter) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.next(keys, args)
}

func (f *fakeScripter) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.next(keys, args)
}

func (f *fakeScripter) EvalRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.next(keys, args)
}

func (f *fakeScripter) EvalShaRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.next(keys, args)
}

func (f *fakeScripter) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeScripter) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func TestTokenBucketAllowed(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	client := &fakeScripter{replies: []scriptReply{{val: []any{int64(1), "4.5", ts}}}}

	res, err := NewTokenBucket(client).Allow(context.Background(), "k", 2, 10)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 10, res.Limit)
	require.Equal(t, 4, res.Remaining)
	require.Zero(t, res.RetryAfter)
	require.Equal(t, []string{"k"}, client.keys)
	require.Equal(t, []any{float64(2), 10, int64(10000)}, client.args[0])
}

func TestTokenBucketDeniedComputesRetryAfter(t *testing.T) {
	client := &fakeScripter{replies: []scriptReply{{val: []any{int64(0), "0.5", int64(1000)}}}}

	res, err := NewTokenBucket(client).Allow(context.Background(), "k", 2, 4)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 250*time.Millisecond, res.RetryAfter)
	require.Equal(t, time.UnixMilli(1000).Add(250*time.Millisecond), res.ResetTime)
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	require.ErrorIs(t, err, ErrNotConfigured)

	bucket := NewTokenBucket(&fakeScripter{})
	_, err = bucket.Allow(context.Background(), "", 1, 1)
	require.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	require.ErrorIs(t, err, ErrInvalidRate)

	short := NewTokenBucket(&fakeScripter{replies: []scriptReply{{val: []any{int64(1)}}}})
	_, err = short.Allow(context.Background(), "k", 1, 1)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestDefaultBucketTTL(t *testing.T) {
	require.Equal(t, 40*time.Second, defaultBucketTTL(1, 20))
	require.Equal(t, time.Second, defaultBucketTTL(1000, 1))
	require.Equal(t, time.Second, defaultBucketTTL(0, 1))
}

func TestWriteLimiterKeysByOrg(t *testing.T) {
	client := &fakeScripter{replies: []scriptReply{{val: []any{int64(1), "3", int64(0)}}}}
	limiter := newWriteLimiter(client, 5, 5)

	res, err := limiter.AllowOrg(context.Background(), " 42 ")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, []string{"invoicing:ratelimit:writes:org:42"}, client.keys)
}

func TestWriteLimiterDisabled(t *testing.T) {
	limiter, err := NewWriteLimiter(config.Config{}, nil)
	require.NoError(t, err)
	require.Nil(t, limiter)
	require.False(t, limiter.Enabled())

	res, err := limiter.AllowOrg(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestNilLockerIsSafe(t *testing.T) {
	var l *Locker
	_, ok, err := l.TryLock(context.Background(), "k", time.Second)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrNotConfigured)
	require.NoError(t, l.Release(context.Background(), "k", "t"))
	require.Nil(t, NewLocker(nil))
}
