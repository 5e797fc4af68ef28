package credentials_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/credentials"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// fakeExchanger counts exchanges and can hold them open until released.
type fakeExchanger struct {
	calls    int32
	lifetime time.Duration
	now      func() time.Time
	err      error
	gate     chan struct{}
}

func (f *fakeExchanger) Exchange(ctx context.Context) (relay.AccessCredential, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return relay.AccessCredential{}, ctx.Err()
		}
	}
	if f.err != nil {
		return relay.AccessCredential{}, f.err
	}
	return relay.AccessCredential{
		Token:     "token-" + string(rune('0'+n)),
		ExpiresAt: f.now().Add(f.lifetime),
	}, nil
}

func (f *fakeExchanger) Calls() int {
	return int(atomic.LoadInt32(&f.calls))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newFixture(lifetime time.Duration) (*fakeExchanger, *fakeClock, *credentials.Provider) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	ex := &fakeExchanger{lifetime: lifetime, now: clock.Now}
	p := credentials.NewProvider(ex, time.Minute, 5*time.Second, newTestLogger(), credentials.WithClock(clock.Now))
	return ex, clock, p
}

func concurrentTokens(t *testing.T, p *credentials.Provider, n int) []relay.AccessCredential {
	t.Helper()
	var wg sync.WaitGroup
	creds := make([]relay.AccessCredential, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = p.Token(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return creds
}

func TestProvider_Caching(t *testing.T) {
	t.Run("Cache hit makes no exchange", func(t *testing.T) {
		ex, _, p := newFixture(time.Hour)

		first, err := p.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, ex.Calls())

		creds := concurrentTokens(t, p, 50)

		assert.Equal(t, 1, ex.Calls(), "valid cached credential must be reused")
		for _, c := range creds {
			assert.Equal(t, first, c)
		}
	})

	t.Run("Absent credential - concurrent callers share one exchange", func(t *testing.T) {
		ex, _, p := newFixture(time.Hour)
		ex.gate = make(chan struct{})

		done := make(chan []relay.AccessCredential)
		go func() { done <- concurrentTokens(t, p, 50) }()

		require.Eventually(t, func() bool { return ex.Calls() == 1 }, time.Second, 5*time.Millisecond)
		close(ex.gate)
		creds := <-done

		assert.Equal(t, 1, ex.Calls())
		for _, c := range creds {
			assert.Equal(t, creds[0], c)
		}
	})

	t.Run("Expired credential triggers exactly one refresh", func(t *testing.T) {
		ex, clock, p := newFixture(time.Hour)

		_, err := p.Token(context.Background())
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		creds := concurrentTokens(t, p, 20)

		assert.Equal(t, 2, ex.Calls())
		assert.True(t, creds[0].ExpiresAt.After(clock.Now()))
	})

	t.Run("Credential inside the safety margin is refreshed", func(t *testing.T) {
		ex, clock, p := newFixture(time.Hour)

		first, err := p.Token(context.Background())
		require.NoError(t, err)

		// 30s left, margin is 1m
		clock.Advance(time.Hour - 30*time.Second)
		second, err := p.Token(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 2, ex.Calls())
		assert.NotEqual(t, first.Token, second.Token)
	})
}

func TestProvider_Failures(t *testing.T) {
	t.Run("Exchange failure is an AuthError and is not cached", func(t *testing.T) {
		ex, _, p := newFixture(time.Hour)
		ex.err = errors.New(`oauth2: cannot fetch token: 400 Bad Request Response: {"error":"invalid_grant"}`)

		_, err := p.Token(context.Background())

		var authErr *relay.AuthError
		require.True(t, errors.As(err, &authErr), "got %T", err)
		assert.Contains(t, err.Error(), "invalid_grant")

		ex.err = nil
		cred, err := p.Token(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, cred.Token)
		assert.Equal(t, 2, ex.Calls())
	})

	t.Run("ConfigError passes through unchanged", func(t *testing.T) {
		ex, _, p := newFixture(time.Hour)
		ex.err = &relay.ConfigError{Field: "private_key"}

		_, err := p.Token(context.Background())

		var cfgErr *relay.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		var authErr *relay.AuthError
		assert.False(t, errors.As(err, &authErr))
	})

	t.Run("All waiters receive the shared failure", func(t *testing.T) {
		ex, _, p := newFixture(time.Hour)
		ex.gate = make(chan struct{})
		ex.err = errors.New("identity backend unavailable")

		var wg sync.WaitGroup
		var failures int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := p.Token(context.Background()); err != nil {
					atomic.AddInt32(&failures, 1)
				}
			}()
		}
		require.Eventually(t, func() bool { return ex.Calls() == 1 }, time.Second, 5*time.Millisecond)
		close(ex.gate)
		wg.Wait()

		assert.Equal(t, int32(10), failures)
		assert.LessOrEqual(t, ex.Calls(), 10)
	})

	t.Run("Caller context cancellation aborts the wait", func(t *testing.T) {
		ex, _, p := newFixture(time.Hour)
		ex.gate = make(chan struct{})
		defer close(ex.gate)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := p.Token(ctx)

		var authErr *relay.AuthError
		require.True(t, errors.As(err, &authErr))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Credential shorter than the margin is rejected", func(t *testing.T) {
		_, _, p := newFixture(30 * time.Second)

		_, err := p.Token(context.Background())

		var authErr *relay.AuthError
		require.True(t, errors.As(err, &authErr))
	})
}

func TestProvider_TokenSource(t *testing.T) {
	ex, clock, p := newFixture(time.Hour)

	tok, err := p.TokenSource(context.Background()).Token()

	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, clock.Now().Add(time.Hour-time.Minute), tok.Expiry)
	assert.Equal(t, 1, ex.Calls())
}
