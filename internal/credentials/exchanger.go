package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/tinywideclouds/go-push-relay/pkg/relay"
)

// DefaultTokenURL is Google's OAuth 2.0 token endpoint for JWT bearer grants.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// defaultLifetime applies when the identity backend omits expires_in.
const defaultLifetime = time.Hour

// JWTExchanger signs a JWT assertion with the service identity and trades it for a
// bearer token (RFC 7523).
type JWTExchanger struct {
	identity   relay.ServiceIdentity
	httpClient *http.Client
	now        func() time.Time
}

// NewJWTExchanger creates an exchanger whose HTTP calls are bounded by timeout.
func NewJWTExchanger(identity relay.ServiceIdentity, timeout time.Duration) *JWTExchanger {
	return &JWTExchanger{
		identity:   identity,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Exchange performs one token exchange. It never consults a cache.
func (e *JWTExchanger) Exchange(ctx context.Context) (relay.AccessCredential, error) {
	if len(e.identity.SigningKey) == 0 {
		return relay.AccessCredential{}, &relay.ConfigError{Field: "private_key", Err: errors.New("signing key is not configured")}
	}
	if e.identity.IssuerEmail == "" {
		return relay.AccessCredential{}, &relay.ConfigError{Field: "client_email", Err: errors.New("issuer email is not configured")}
	}

	tokenURL := e.identity.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	scopes := e.identity.Scopes
	if len(scopes) == 0 {
		scopes = []string{relay.FirebaseMessagingScope}
	}

	conf := &jwt.Config{
		Email:      e.identity.IssuerEmail,
		PrivateKey: e.identity.SigningKey,
		Scopes:     scopes,
		TokenURL:   tokenURL,
	}

	// x/oauth2 picks the HTTP client out of the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return relay.AccessCredential{}, fmt.Errorf("token exchange for %s: %w", e.identity.IssuerEmail, err)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = e.now().Add(defaultLifetime)
	}
	return relay.AccessCredential{Token: tok.AccessToken, ExpiresAt: expiresAt}, nil
}
