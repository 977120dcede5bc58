package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError marks an error that must not be retried.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so that Do returns it immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was wrapped with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration.
type Config struct {
	// MaxAttempts bounds the number of calls. Zero means a single call and a
	// negative value retries until the context is done.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool
	// RetryIf, when set, decides whether an error is worth another attempt.
	RetryIf func(error) bool
}

// DefaultConfig returns the defaults used for socket binds and NATS connects.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) normalized() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, errors.New("retry: delays and multiplier cannot be negative")
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// Do calls fn until it succeeds or retrying stops. The last error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}
	b := &Backoff{cfg: cfg}

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if IsNonRetryable(err) || (cfg.RetryIf != nil && !cfg.RetryIf(err)) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, errors.Join(err, ctx.Err()))
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return err
		}
		if werr := Sleep(ctx, b.Next()); werr != nil {
			return fmt.Errorf("retry cancelled during backoff after attempt %d: %w", attempt, errors.Join(err, werr))
		}
	}
}

// Backoff yields growing delays. It is not safe for concurrent use.
type Backoff struct {
	cfg   Config
	delay time.Duration
}

// NewBackoff returns a Backoff following cfg's delay settings.
func NewBackoff(cfg Config) (*Backoff, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &Backoff{cfg: cfg}, nil
}

// Next returns the next delay, jittered by up to 25% when configured.
func (b *Backoff) Next() time.Duration {
	if b.delay == 0 {
		b.delay = b.cfg.InitialDelay
	} else {
		next := time.Duration(float64(b.delay) * b.cfg.Multiplier)
		if next > b.cfg.MaxDelay || next < b.delay {
			next = b.cfg.MaxDelay
		}
		b.delay = next
	}

	d := b.delay
	if b.cfg.AddJitter && d >= 4 {
		randMu.Lock()
		d += time.Duration(randSource.Int63n(int64(d / 4)))
		randMu.Unlock()
	}
	return d
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() { b.delay = 0 }

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
