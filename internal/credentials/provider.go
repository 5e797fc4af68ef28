package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-push-relay/internal/telemetry"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

const flightKey = "access-credential"

// Provider caches the current AccessCredential and coordinates refreshes so that
// at most one exchange is in flight. Callers that arrive during a refresh wait for
// that exchange and share its result or its failure.
type Provider struct {
	exchanger   relay.Exchanger
	margin      time.Duration
	timeout     time.Duration
	now         func() time.Time
	instruments *telemetry.Instruments
	logger      *slog.Logger

	cached atomic.Pointer[relay.AccessCredential]
	flight singleflight.Group
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithInstruments enables tracing and metrics for exchanges.
func WithInstruments(i *telemetry.Instruments) Option {
	return func(p *Provider) { p.instruments = i }
}

// NewProvider creates a Provider. margin is how long before the real expiry a
// credential stops being handed out; timeout bounds each exchange.
func NewProvider(exchanger relay.Exchanger, margin, timeout time.Duration, logger *slog.Logger, opts ...Option) *Provider {
	p := &Provider{
		exchanger:   exchanger,
		margin:      margin,
		timeout:     timeout,
		now:         time.Now,
		instruments: telemetry.Noop(),
		logger:      logger.With("component", "CredentialProvider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a credential valid for at least the safety margin.
func (p *Provider) Token(ctx context.Context) (relay.AccessCredential, error) {
	if cred, ok := p.current(); ok {
		return cred, nil
	}

	// The exchange must not die with the first caller's context: other callers
	// may be waiting on it.
	exchangeCtx := context.WithoutCancel(ctx)
	ch := p.flight.DoChan(flightKey, func() (interface{}, error) {
		return p.refresh(exchangeCtx)
	})

	select {
	case <-ctx.Done():
		return relay.AccessCredential{}, &relay.AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return relay.AccessCredential{}, res.Err
		}
		return res.Val.(relay.AccessCredential), nil
	}
}

func (p *Provider) current() (relay.AccessCredential, bool) {
	cred := p.cached.Load()
	if cred == nil || !cred.ValidAt(p.now(), p.margin) {
		return relay.AccessCredential{}, false
	}
	return *cred, true
}

func (p *Provider) refresh(ctx context.Context) (relay.AccessCredential, error) {
	// A caller that missed the cache may reach here just after another flight stored
	// a fresh credential.
	if cred, ok := p.current(); ok {
		return cred, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx, span := p.instruments.Tracer.Start(ctx, "relay.credential.exchange")
	defer span.End()

	start := p.now()
	cred, err := p.exchanger.Exchange(ctx)
	p.instruments.RecordExchange(ctx, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exchange failed")
		p.logger.Error("Credential exchange failed", "err", err)

		var cfgErr *relay.ConfigError
		if errors.As(err, &cfgErr) {
			return relay.AccessCredential{}, err
		}
		return relay.AccessCredential{}, &relay.AuthError{Err: err}
	}

	if !cred.ValidAt(p.now(), p.margin) {
		err := fmt.Errorf("credential expires at %s, inside the %s safety margin", cred.ExpiresAt.Format(time.RFC3339), p.margin)
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential too short-lived")
		return relay.AccessCredential{}, &relay.AuthError{Err: err}
	}

	p.cached.Store(&cred)
	p.logger.Debug("Credential refreshed", "expires_at", cred.ExpiresAt, "took", p.now().Sub(start))
	return cred, nil
}

// TokenSource adapts the Provider to oauth2.TokenSource for SDK clients.
// The reported expiry already has the safety margin taken off so that an SDK-side
// cache never outlives the Provider's.
func (p *Provider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &providerTokenSource{ctx: ctx, provider: p}
}

type providerTokenSource struct {
	ctx      context.Context
	provider *Provider
}

func (ts *providerTokenSource) Token() (*oauth2.Token, error) {
	cred, err := ts.provider.Token(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: cred.Token,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresAt.Add(-ts.provider.margin),
	}, nil
}
