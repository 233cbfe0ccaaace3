package leaselock

import (
	"context"
	"errors"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Memory is a process-local Locker with the same expiry semantics as the
// app_locks table. It backs tests and single-process runs without Postgres.
type Memory struct {
	mu   sync.Mutex
	held map[string]memoryHold

	// Now is the clock used for expiry checks.
	Now func() time.Time
}

type memoryHold struct {
	token     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		held: map[string]memoryHold{},
		Now:  time.Now,
	}
}

func (m *Memory) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	if key == "" {
		return errors.New("lease lock key is empty")
	}
	opts, _ = normalizeOptions(opts)
	token, err := gonanoid.New()
	if err != nil {
		return err
	}
	token = opts.TokenPrefix + token

	for {
		if m.tryAcquire(key, token, opts.TTL) {
			break
		}
		if !opts.Wait {
			return ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return err
		}
	}
	defer m.release([]string{key}, token)
	return fn(ctx)
}

func (m *Memory) AcquireBatch(_ context.Context, keys []string, opts Options) (*BatchLease, error) {
	opts, _ = normalizeOptions(opts)
	token, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token = opts.TokenPrefix + token

	acquired := make([]string, 0, len(keys))
	for _, k := range keys {
		if m.tryAcquire(k, token, opts.TTL) {
			acquired = append(acquired, k)
		}
	}
	return &BatchLease{
		Keys:  acquired,
		Token: token,
		release: func(context.Context) error {
			m.release(acquired, token)
			return nil
		},
	}, nil
}

func (m *Memory) tryAcquire(key, token string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if h, ok := m.held[key]; ok && h.token != token && !h.expiresAt.Before(now) {
		return false
	}
	m.held[key] = memoryHold{token: token, expiresAt: now.Add(ttl)}
	return true
}

func (m *Memory) release(keys []string, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if h, ok := m.held[k]; ok && h.token == token {
			delete(m.held, k)
		}
	}
}
