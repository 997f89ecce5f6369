package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/meetingflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *fakeNow) {
	clock := &fakeNow{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", cfg, zap.NewNop())
	b.now = clock.now
	return b, clock
}

var errFail = errors.New("fail")

func fail(context.Context) error { return errFail }
func ok(context.Context) error   { return nil }

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	b := New("x", Config{HalfOpenMaxCalls: -1}, nil)
	assert.Equal(t, 5, b.cfg.Threshold)
	assert.Equal(t, 30*time.Second, b.cfg.ResetTimeout)
	assert.Equal(t, 1, b.cfg.HalfOpenMaxCalls)
	assert.NotNil(t, b.cfg.IsFailure)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "x", b.Name())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// 状态转换
// ---------------------------------------------------------------------------

func TestBreaker_ClosedToOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Do(context.Background(), fail), errFail)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Do(context.Background(), fail), errFail)
	assert.Equal(t, StateOpen, b.State())

	err := b.Do(context.Background(), ok)
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, types.IsTransient(err))
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: 30 * time.Second})

	_ = b.Do(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	clock.advance(29 * time.Second)
	assert.ErrorIs(t, b.Do(context.Background(), ok), ErrOpen)

	clock.advance(2 * time.Second)
	assert.NoError(t, b.Do(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Second})

	_ = b.Do(context.Background(), fail)
	clock.advance(2 * time.Second)

	assert.ErrorIs(t, b.Do(context.Background(), fail), errFail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1})
	_ = b.Do(context.Background(), fail)
	clock.advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, b.Do(context.Background(), ok), ErrTooManyCallsInHalfOpen)
	close(release)
	require.Eventually(t, func() bool { return b.State() == StateClosed }, time.Second, 5*time.Millisecond)
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1})

	err := b.Do(context.Background(), func(context.Context) error {
		return types.NewError(types.ErrProfileNotFound, "missing")
	})
	assert.Error(t, err)
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3})

	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), ok)
	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ResetAndCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]State
	b, _ := newTestBreaker(Config{
		Threshold: 1,
		OnStateChange: func(name string, from, to State) {
			assert.Equal(t, "test", name)
			mu.Lock()
			transitions = append(transitions, [2]State{from, to})
			mu.Unlock()
		},
	})

	_ = b.Do(context.Background(), fail)
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Do(context.Background(), ok))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBreaker_StaleResultIgnored(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Hour})

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	_ = b.Do(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	// 打开前放行的调用成功返回，不应让熔断器恢复
	close(release)
	<-done
	assert.Equal(t, StateOpen, b.State())
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	v, err := Execute(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = Execute(context.Background(), b, func(context.Context) (int, error) { return 7, errFail })
	assert.ErrorIs(t, err, errFail)
	assert.Zero(t, v)
}

func TestBreaker_ConcurrentSafety(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 100})

	var wg sync.WaitGroup
	var successCount atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Do(context.Background(), ok); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), successCount.Load())
	assert.Equal(t, StateClosed, b.State())
}
