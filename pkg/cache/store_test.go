package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/ebookpay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(value int, calls *atomic.Int32) Loader[int] {
	return func(ctx context.Context) (int, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestStoreReadThrough(t *testing.T) {
	store := NewStore[int](time.Minute)
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, err := store.Get(context.Background(), "k", []string{"t"}, counting(7, &calls))
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestStoreLoadErrorNotCached(t *testing.T) {
	store := NewStore[int](time.Minute)
	boom := errors.New("boom")

	_, err := store.Get(context.Background(), "k", nil, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}

func TestStoreExpiry(t *testing.T) {
	store := NewStore[int](time.Second)
	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }
	var calls atomic.Int32

	_, err := store.Get(context.Background(), "k", nil, counting(1, &calls))
	require.NoError(t, err)

	now = now.Add(999 * time.Millisecond)
	_, ok := store.Peek("k")
	assert.True(t, ok)

	now = now.Add(time.Millisecond)
	_, ok = store.Peek("k")
	assert.False(t, ok)

	_, err = store.Get(context.Background(), "k", nil, counting(1, &calls))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStoreInvalidateByTopic(t *testing.T) {
	store := NewStore[int](time.Minute)
	store.Set("a", []string{"x", "y"}, 1)
	store.Set("b", []string{"y"}, 2)
	store.Set("c", []string{"z"}, 3)

	assert.Equal(t, 2, store.Invalidate("y"))
	_, okA := store.Peek("a")
	_, okB := store.Peek("b")
	_, okC := store.Peek("c")
	assert.False(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)

	// a was removed from topic x as well
	assert.Equal(t, 0, store.Invalidate("x"))
}

func TestStoreSetReplacesTopics(t *testing.T) {
	store := NewStore[int](time.Minute)
	store.Set("a", []string{"old"}, 1)
	store.Set("a", []string{"new"}, 2)

	assert.Equal(t, 0, store.Invalidate("old"))
	v, ok := store.Peek("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestStoreConcurrentMissesShareLoad(t *testing.T) {
	store := NewStore[int](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	loader := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 5, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := store.Get(context.Background(), "k", nil, loader)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 5, v)
	}
}

func TestStoreLoadOverlappingInvalidationNotCached(t *testing.T) {
	store := NewStore[int](time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan int)
	go func() {
		v, _ := store.Get(context.Background(), "k", []string{"t"}, func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- v
	}()

	<-started
	store.Invalidate("t")
	close(release)
	assert.Equal(t, 1, <-done)

	_, ok := store.Peek("k")
	assert.False(t, ok, "stale load must not be cached")
}

func TestStoreSubscribe(t *testing.T) {
	store := NewStore[int](time.Minute)
	var seen []string
	unsubscribe := store.Subscribe("t", func(topic string) { seen = append(seen, topic) })
	store.Subscribe(AnyTopic, func(topic string) { seen = append(seen, "any:"+topic) })

	store.Invalidate("t")
	store.Invalidate("u")
	unsubscribe()
	unsubscribe()
	store.Invalidate("t")

	assert.ElementsMatch(t, []string{"t", "any:t", "any:u", "any:t"}, seen)
}

func TestBusFansOut(t *testing.T) {
	amounts := NewStore[int](time.Minute)
	names := NewStore[string](time.Minute)
	bus := NewBus(amounts)
	bus.Attach(names)

	amounts.Set("a", []string{"t"}, 1)
	names.Set("b", []string{"t"}, "x")
	names.Set("c", []string{"other"}, "y")

	var notified []string
	stop := bus.Subscribe(AnyTopic, func(topic string) { notified = append(notified, topic) })
	defer stop()

	bus.Invalidate("t", "missing")

	assert.Equal(t, 0, amounts.Len())
	assert.Equal(t, 1, names.Len())
	assert.Equal(t, []string{"t", "missing"}, notified)
}

func TestTopics(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	spender := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	token := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	assert.Equal(t,
		"allowance:0x00000000000000000000000000000000000000aa:0x00000000000000000000000000000000000000bb:0x00000000000000000000000000000000000000cc",
		AllowanceTopic(owner, spender, token))
	assert.Equal(t, "ownership:0x00000000000000000000000000000000000000aa", OwnershipTopic(owner))
	assert.Equal(t, "listing:12", ListingTopic(types.ContentID(12)))
	assert.NotEqual(t, BalanceTopic(owner, token), BalanceTopic(spender, token))
	assert.Equal(t, "earnings:0x00000000000000000000000000000000000000bb", EarningsTopic(spender))
}

func TestOwnershipHolder(t *testing.T) {
	holder := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	got, ok := OwnershipHolder(OwnershipTopic(holder))
	require.True(t, ok)
	assert.Equal(t, holder, got)

	_, ok = OwnershipHolder(ListingTopic(types.ContentID(1)))
	assert.False(t, ok)
	_, ok = OwnershipHolder("ownership:nothex")
	assert.False(t, ok)
}

func TestStoreCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	store := NewStore[int](time.Minute)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	loader := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "shared load runs under the store's own timeout")
		select {
		case <-release:
			return 9, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := store.Get(leaderCtx, "k", nil, loader)
		leader <- err
	}()
	<-started

	type result struct {
		v   int
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := store.Get(context.Background(), "k", nil, loader)
		follower <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leader, context.Canceled)

	close(release)
	res := <-follower
	require.NoError(t, res.err)
	assert.Equal(t, 9, res.v)
	assert.Equal(t, int32(1), calls.Load())

	v, ok := store.Peek("k")
	assert.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestStoreGetWithCancelledContext(t *testing.T) {
	store := NewStore[int](time.Minute)
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "k", nil, counting(1, &calls))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}
