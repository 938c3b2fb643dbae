package fallback_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentoven/taskrouter/internal/capability"
	"github.com/agentoven/taskrouter/internal/fallback"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// counting records how many times each capability was invoked.
type counting struct {
	calls map[string]*atomic.Int32
}

func (c *counting) cap(id string, fn capability.InvokeFunc) capability.Capability {
	n := &atomic.Int32{}
	c.calls[id] = n
	return capability.NewFunc(capability.Descriptor{ID: id, Tier: models.TierStandard}, func(ctx context.Context, m []models.ChatMessage, sp string) (string, error) {
		n.Add(1)
		return fn(ctx, m, sp)
	})
}

func ok(id string) capability.InvokeFunc {
	return func(context.Context, []models.ChatMessage, string) (string, error) { return "answer from " + id, nil }
}

func fail(context.Context, []models.ChatMessage, string) (string, error) {
	return "", errors.New("boom")
}

var msgs = []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}

func TestExecute_FirstSuccessWins(t *testing.T) {
	const n = 5
	for k := 1; k <= n; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			cc := &counting{calls: map[string]*atomic.Int32{}}
			var caps []capability.Capability
			var ids []string
			for i := 1; i <= n; i++ {
				id := fmt.Sprintf("c%d", i)
				ids = append(ids, id)
				if i < k {
					caps = append(caps, cc.cap(id, fail))
				} else {
					caps = append(caps, cc.cap(id, ok(id)))
				}
			}
			reg, err := capability.NewRegistry(caps...)
			require.NoError(t, err)

			res, err := fallback.New(reg, time.Second).Execute(context.Background(), ids, msgs, "")
			require.NoError(t, err)
			assert.Equal(t, ids[k-1], res.UsedCapability)
			assert.Equal(t, "answer from "+ids[k-1], res.Output)
			assert.Equal(t, ids[:k], res.Attempted)

			total := 0
			for i, id := range ids {
				calls := int(cc.calls[id].Load())
				total += calls
				if i < k {
					assert.Equal(t, 1, calls, id)
				} else {
					assert.Equal(t, 0, calls, id)
				}
			}
			assert.Equal(t, k, total)
		})
	}
}

func TestExecute_AllFail(t *testing.T) {
	cc := &counting{calls: map[string]*atomic.Int32{}}
	reg, err := capability.NewRegistry(cc.cap("a", fail), cc.cap("b", fail), cc.cap("c", fail))
	require.NoError(t, err)

	_, err = fallback.New(reg, time.Second).Execute(context.Background(), []string{"c", "a", "b"}, msgs, "")

	var all *fallback.AllFailedError
	require.True(t, errors.As(err, &all))
	assert.Equal(t, []string{"c", "a", "b"}, all.Attempted)
	assert.ErrorContains(t, all.LastError, "boom")
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, int32(1), cc.calls[id].Load(), "no retry of %s", id)
	}
}

func TestExecute_EmptyOutputFallsBack(t *testing.T) {
	empty := capability.NewFunc(capability.Descriptor{ID: "empty", Tier: models.TierDeep}, func(context.Context, []models.ChatMessage, string) (string, error) {
		return "  \n", nil
	})
	good := capability.NewFunc(capability.Descriptor{ID: "good", Tier: models.TierCheap}, ok("good"))
	reg, err := capability.NewRegistry(empty, good)
	require.NoError(t, err)

	res, err := fallback.New(reg, time.Second).Execute(context.Background(), []string{"empty", "good"}, msgs, "")
	require.NoError(t, err)
	assert.Equal(t, "good", res.UsedCapability)
	assert.Equal(t, models.TierCheap, res.Tier)
	assert.Equal(t, []string{"empty", "good"}, res.Attempted)

	_, err = fallback.New(reg, time.Second).Execute(context.Background(), []string{"empty"}, msgs, "")
	assert.ErrorIs(t, err, capability.ErrEmptyOutput)
}

func TestExecute_PerCallTimeout(t *testing.T) {
	slow := capability.NewFunc(capability.Descriptor{ID: "slow", Tier: models.TierDeep}, func(ctx context.Context, _ []models.ChatMessage, _ string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	})
	fast := capability.NewFunc(capability.Descriptor{ID: "fast", Tier: models.TierCheap}, ok("fast"))
	reg, err := capability.NewRegistry(slow, fast)
	require.NoError(t, err)

	start := time.Now()
	res, err := fallback.New(reg, 50*time.Millisecond).Execute(context.Background(), []string{"slow", "fast"}, msgs, "")
	require.NoError(t, err)
	assert.Equal(t, "fast", res.UsedCapability)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecute_TimeoutEnforcedWhenCtxIgnored(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stubborn := capability.NewFunc(capability.Descriptor{ID: "stubborn", Tier: models.TierDeep}, func(context.Context, []models.ChatMessage, string) (string, error) {
		<-release
		return "late answer", nil
	})
	fast := capability.NewFunc(capability.Descriptor{ID: "fast", Tier: models.TierCheap}, ok("fast"))
	reg, err := capability.NewRegistry(stubborn, fast)
	require.NoError(t, err)

	start := time.Now()
	res, err := fallback.New(reg, 50*time.Millisecond).Execute(context.Background(), []string{"stubborn", "fast"}, msgs, "")
	require.NoError(t, err)
	assert.Equal(t, "fast", res.UsedCapability)
	assert.Equal(t, []string{"stubborn", "fast"}, res.Attempted)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_DescriptorTimeoutOverrides(t *testing.T) {
	slow := capability.NewFunc(capability.Descriptor{ID: "slow", Tier: models.TierDeep, Timeout: 20 * time.Millisecond}, func(ctx context.Context, _ []models.ChatMessage, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	reg, err := capability.NewRegistry(slow)
	require.NoError(t, err)

	_, err = fallback.New(reg, time.Hour).Execute(context.Background(), []string{"slow"}, msgs, "")
	var all *fallback.AllFailedError
	require.True(t, errors.As(err, &all))
	assert.Equal(t, []string{"slow"}, all.Attempted)
	assert.ErrorContains(t, err, "timed out")
}

func TestExecute_ParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cc := &counting{calls: map[string]*atomic.Int32{}}
	first := cc.cap("first", func(context.Context, []models.ChatMessage, string) (string, error) {
		cancel()
		return "", errors.New("interrupted")
	})
	second := cc.cap("second", ok("second"))
	reg, err := capability.NewRegistry(first, second)
	require.NoError(t, err)

	_, err = fallback.New(reg, time.Second).Execute(ctx, []string{"first", "second"}, msgs, "")
	var all *fallback.AllFailedError
	require.True(t, errors.As(err, &all))
	assert.Equal(t, []string{"first"}, all.Attempted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), cc.calls["second"].Load())
}

func TestExecute_NoCandidates(t *testing.T) {
	reg, err := capability.NewRegistry(capability.NewFunc(capability.Descriptor{ID: "a", Tier: models.TierCheap}, ok("a")))
	require.NoError(t, err)

	_, err = fallback.New(reg, time.Second).Execute(context.Background(), nil, msgs, "")
	var all *fallback.AllFailedError
	require.True(t, errors.As(err, &all))
	assert.Empty(t, all.Attempted)
	assert.ErrorIs(t, err, capability.ErrNoCapabilities)
}

func TestLatencyEMA(t *testing.T) {
	reg, err := capability.NewRegistry(capability.NewFunc(capability.Descriptor{ID: "a", Tier: models.TierCheap}, func(context.Context, []models.ChatMessage, string) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "x", nil
	}))
	require.NoError(t, err)

	ex := fallback.New(reg, time.Second)
	assert.Zero(t, ex.Latency("a"))

	_, err = ex.Execute(context.Background(), []string{"a"}, msgs, "")
	require.NoError(t, err)
	assert.Positive(t, ex.Latency("a"))
	assert.Contains(t, ex.Latencies(), "a")
}
