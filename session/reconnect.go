package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnectionState is the state of a room subscription's connection. Exactly
// one instance exists per Reconnector.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
	// StateAbandoned is terminal: the retry budget is spent and only an
	// explicit user-triggered reconnect leaves it.
	StateAbandoned ConnectionState = "ABANDONED"
)

// ErrRetryExhausted is returned by Connect once every attempt has failed.
var ErrRetryExhausted = errors.New("reconnect attempts exhausted")

// ReconnectConfig bounds the retry behavior. The defaults give the delay
// sequence 1s, 2s, 4s, 8s, 16s, 32s, 32s, ... over ten attempts.
type ReconnectConfig struct {
	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration
	// MaxDelay caps the doubling.
	MaxDelay time.Duration
	// MaxAttempts is the retry budget before the state turns ABANDONED.
	MaxAttempts int
	// VerifyWait is how long a fresh connection must stay alive before it
	// counts as established.
	VerifyWait time.Duration
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:   time.Second,
		MaxDelay:    32 * time.Second,
		MaxAttempts: 10,
		VerifyWait:  time.Second,
	}
}

// DialFunc attempts the transport connect for a room.
type DialFunc func(ctx context.Context, roomID string) error

// VerifyFunc checks that the freshly dialed connection is actually alive.
type VerifyFunc func(ctx context.Context) error

// Reconnector drives connect attempts with capped exponential backoff. The
// immediate first attempt avoids penalizing transient blips; the cap bounds
// reconnection storms; the attempt budget prevents unbounded background work
// after a prolonged outage.
type Reconnector struct {
	dial   DialFunc
	verify VerifyFunc
	cfg    ReconnectConfig

	// sleep is swapped out by tests to observe the backoff sequence.
	sleep func(ctx context.Context, d time.Duration) error

	onState  func(ConnectionState)
	onResult func(roomID string, err error)

	mu         sync.Mutex
	state      ConnectionState
	retryCount int
	cancelAuto context.CancelFunc

	logger *slog.Logger
}

type ReconnectorOption func(*Reconnector)

func WithReconnectConfig(cfg ReconnectConfig) ReconnectorOption {
	return func(r *Reconnector) {
		r.cfg = cfg
	}
}

func WithReconnectorLogger(logger *slog.Logger) ReconnectorOption {
	return func(r *Reconnector) {
		r.logger = logger
	}
}

// OnStateChange registers an observer for state transitions.
func OnStateChange(f func(ConnectionState)) ReconnectorOption {
	return func(r *Reconnector) {
		r.onState = f
	}
}

// OnAutoResult registers a callback for the outcome of a background
// reconnection run started by StartAutoReconnect.
func OnAutoResult(f func(roomID string, err error)) ReconnectorOption {
	return func(r *Reconnector) {
		r.onResult = f
	}
}

func NewReconnector(dial DialFunc, verify VerifyFunc, opts ...ReconnectorOption) *Reconnector {
	r := &Reconnector{
		dial:   dial,
		verify: verify,
		cfg:    DefaultReconnectConfig(),
		sleep:  sleepContext,
		state:  StateDisconnected,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// State returns the current connection state.
func (r *Reconnector) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconnector) setState(s ConnectionState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if r.onState != nil {
		r.onState(s)
	}
}

// Connect attempts to establish a connection to the room, retrying with
// capped exponential backoff until the attempt budget is spent. It returns
// nil once a connection is established and verified, ErrRetryExhausted once
// the state is ABANDONED, or the context error if cancelled.
//
// The first backoff sleep uses the base delay; the delay doubles after each
// sleep up to the cap, yielding 1s, 2s, 4s, ... 32s, 32s with the defaults.
func (r *Reconnector) Connect(ctx context.Context, roomID string) error {
	r.mu.Lock()
	r.retryCount = 0
	r.mu.Unlock()
	delay := r.cfg.BaseDelay

	for {
		r.mu.Lock()
		exhausted := r.retryCount >= r.cfg.MaxAttempts
		r.mu.Unlock()
		if exhausted {
			break
		}

		r.setState(StateConnecting)
		err := r.attempt(ctx, roomID)
		if err == nil {
			r.mu.Lock()
			r.retryCount = 0
			r.mu.Unlock()
			r.setState(StateConnected)
			return nil
		}
		if ctx.Err() != nil {
			r.setState(StateDisconnected)
			return ctx.Err()
		}

		r.logger.Debug(fmt.Sprintf("connect attempt failed: %v", err),
			slog.String("room.id", roomID))
		r.setState(StateDisconnected)
		r.mu.Lock()
		r.retryCount++
		r.mu.Unlock()

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, r.cfg.MaxDelay)
		r.setState(StateReconnecting)
	}

	r.setState(StateAbandoned)
	return ErrRetryExhausted
}

func (r *Reconnector) attempt(ctx context.Context, roomID string) error {
	if err := r.dial(ctx, roomID); err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	// A socket that accepts the handshake can still die immediately; hold it
	// briefly and verify before declaring success.
	if r.cfg.VerifyWait > 0 {
		if err := r.sleep(ctx, r.cfg.VerifyWait); err != nil {
			return err
		}
	}
	if r.verify != nil {
		if err := r.verify(ctx); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
	}
	return nil
}

// StartAutoReconnect runs Connect in the background, cancelling any prior
// in-flight run first: at most one reconnection attempt exists per
// Reconnector at any time. The outcome is delivered to the OnAutoResult
// callback.
func (r *Reconnector) StartAutoReconnect(roomID string) {
	r.mu.Lock()
	if r.cancelAuto != nil {
		r.cancelAuto()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelAuto = cancel
	r.mu.Unlock()

	go func() {
		err := r.Connect(ctx, roomID)
		if errors.Is(err, context.Canceled) {
			return
		}
		if r.onResult != nil {
			r.onResult(roomID, err)
		}
	}()
}

// StopAutoReconnect cancels any background reconnection run and resets the
// state to DISCONNECTED.
func (r *Reconnector) StopAutoReconnect() {
	r.mu.Lock()
	if r.cancelAuto != nil {
		r.cancelAuto()
		r.cancelAuto = nil
	}
	r.mu.Unlock()
	r.setState(StateDisconnected)
}

// Reset clears the retry counter without touching any running attempt.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryCount = 0
}
