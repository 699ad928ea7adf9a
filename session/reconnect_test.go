package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepRecorder captures every backoff sleep without actually waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	slept  []time.Duration
	cancel context.CancelFunc
	// cancelAfter cancels the context after that many sleeps, simulating a
	// caller giving up mid-backoff.
	cancelAfter int
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	n := len(r.slept)
	r.mu.Unlock()
	if r.cancel != nil && n == r.cancelAfter {
		r.cancel()
	}
	return ctx.Err()
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.slept))
	copy(out, r.slept)
	return out
}

// failNTimes returns a dial that fails its first n calls.
func failNTimes(n int) DialFunc {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context, roomID string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= n {
			return fmt.Errorf("dial refused")
		}
		return nil
	}
}

func recorderConfig() ReconnectConfig {
	cfg := DefaultReconnectConfig()
	cfg.VerifyWait = 0 // only backoff sleeps hit the recorder
	return cfg
}

func seconds(ns ...int) []time.Duration {
	out := make([]time.Duration, len(ns))
	for i, n := range ns {
		out[i] = time.Duration(n) * time.Second
	}
	return out
}

func TestReconnectorFirstAttemptSucceeds(t *testing.T) {
	rec := &sleepRecorder{}
	r := NewReconnector(failNTimes(0), nil, WithReconnectConfig(recorderConfig()))
	r.sleep = rec.sleep

	require.NoError(t, r.Connect(context.Background(), "e1"))
	assert.Equal(t, StateConnected, r.State())
	assert.Empty(t, rec.durations())
}

func TestReconnectorBackoffSequence(t *testing.T) {
	rec := &sleepRecorder{}
	r := NewReconnector(failNTimes(100), nil, WithReconnectConfig(recorderConfig()))
	r.sleep = rec.sleep

	err := r.Connect(context.Background(), "e1")
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, StateAbandoned, r.State())

	// The delay doubles after each sleep and caps at 32s over ten attempts.
	assert.Equal(t, seconds(1, 2, 4, 8, 16, 32, 32, 32, 32, 32), rec.durations())
}

func TestReconnectorRecoversMidway(t *testing.T) {
	rec := &sleepRecorder{}
	r := NewReconnector(failNTimes(3), nil, WithReconnectConfig(recorderConfig()))
	r.sleep = rec.sleep

	require.NoError(t, r.Connect(context.Background(), "e1"))
	assert.Equal(t, StateConnected, r.State())
	assert.Equal(t, seconds(1, 2, 4), rec.durations())
}

func TestReconnectorStateSequence(t *testing.T) {
	rec := &sleepRecorder{}
	var mu sync.Mutex
	var states []ConnectionState
	r := NewReconnector(failNTimes(2), nil,
		WithReconnectConfig(recorderConfig()),
		OnStateChange(func(s ConnectionState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))
	r.sleep = rec.sleep

	require.NoError(t, r.Connect(context.Background(), "e1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionState{
		StateConnecting, StateDisconnected, StateReconnecting,
		StateConnecting, StateDisconnected, StateReconnecting,
		StateConnecting, StateConnected,
	}, states)
}

func TestReconnectorVerifyFailureRetries(t *testing.T) {
	rec := &sleepRecorder{}
	var mu sync.Mutex
	verifies := 0
	verify := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		verifies++
		if verifies == 1 {
			return fmt.Errorf("socket died")
		}
		return nil
	}
	r := NewReconnector(failNTimes(0), verify, WithReconnectConfig(recorderConfig()))
	r.sleep = rec.sleep

	require.NoError(t, r.Connect(context.Background(), "e1"))
	assert.Equal(t, seconds(1), rec.durations())
}

func TestReconnectorContextCancelledMidBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &sleepRecorder{cancel: cancel, cancelAfter: 3}
	r := NewReconnector(failNTimes(100), nil, WithReconnectConfig(recorderConfig()))
	r.sleep = rec.sleep

	err := r.Connect(ctx, "e1")
	require.ErrorIs(t, err, context.Canceled)
	// Cancellation is not abandonment; a later user-triggered connect is
	// still allowed.
	assert.NotEqual(t, StateAbandoned, r.State())
	assert.Len(t, rec.durations(), 3)
}

func TestReconnectorAutoReconnectDeliversResult(t *testing.T) {
	results := make(chan error, 1)
	cfg := recorderConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.MaxAttempts = 3
	r := NewReconnector(failNTimes(100), nil,
		WithReconnectConfig(cfg),
		OnAutoResult(func(roomID string, err error) {
			results <- err
		}))

	r.StartAutoReconnect("e1")

	select {
	case err := <-results:
		require.ErrorIs(t, err, ErrRetryExhausted)
	case <-time.After(2 * time.Second):
		t.Fatal("auto reconnect result never delivered")
	}
	assert.Equal(t, StateAbandoned, r.State())
}

func TestReconnectorStopSuppressesResult(t *testing.T) {
	results := make(chan error, 1)
	dialStarted := make(chan struct{})
	var once sync.Once
	dial := func(ctx context.Context, roomID string) error {
		once.Do(func() { close(dialStarted) })
		<-ctx.Done()
		return ctx.Err()
	}
	r := NewReconnector(dial, nil,
		WithReconnectConfig(recorderConfig()),
		OnAutoResult(func(roomID string, err error) {
			results <- err
		}))

	r.StartAutoReconnect("e1")
	<-dialStarted
	r.StopAutoReconnect()

	assert.Equal(t, StateDisconnected, r.State())
	select {
	case err := <-results:
		t.Fatalf("unexpected result after stop: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectorStartReplacesInFlightRun(t *testing.T) {
	var mu sync.Mutex
	cancelled := 0
	dial := func(ctx context.Context, roomID string) error {
		<-ctx.Done()
		mu.Lock()
		cancelled++
		mu.Unlock()
		return ctx.Err()
	}
	cfg := recorderConfig()
	r := NewReconnector(dial, nil, WithReconnectConfig(cfg))

	r.StartAutoReconnect("e1")
	r.StartAutoReconnect("e1")
	r.StopAutoReconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cancelled == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectorResetClearsRetryCounter(t *testing.T) {
	rec := &sleepRecorder{}
	r := NewReconnector(failNTimes(100), nil, WithReconnectConfig(recorderConfig()))
	r.sleep = rec.sleep

	require.ErrorIs(t, r.Connect(context.Background(), "e1"), ErrRetryExhausted)
	r.Reset()

	// A fresh run gets the full budget and the base delay again.
	rec2 := &sleepRecorder{}
	r.sleep = rec2.sleep
	require.ErrorIs(t, r.Connect(context.Background(), "e1"), ErrRetryExhausted)
	assert.Equal(t, seconds(1, 2, 4, 8, 16, 32, 32, 32, 32, 32), rec2.durations())
}
