package auth

import "time"

const (
	// DefaultTokenExpirationMinutes is the access token lifetime.
	DefaultTokenExpirationMinutes = 60
	// DefaultRefreshExpirationDays is the refresh token lifetime.
	DefaultRefreshExpirationDays = 7
	// DefaultRefreshCookieName is the cookie carrying the refresh token.
	DefaultRefreshCookieName = "refresh_token"
	// DefaultContextKey is where the gate stores validated claims.
	DefaultContextKey = "user"
	// DefaultTokenLookup tells the gate where to find the access token.
	DefaultTokenLookup = "header:Authorization"
	// DefaultAuthScheme prefixes the access token in the header.
	DefaultAuthScheme = "Bearer"
	// DefaultSigningMethod is the JWT signing algorithm.
	DefaultSigningMethod = "HS256"
)

// ConfigObject is the concrete Config. Build one with NewConfig and the
// option setters; the zero value has no signing key and is rejected by every
// constructor that takes a Config.
type ConfigObject struct {
	signingKey        string
	signingMethod     string
	contextKey        string
	tokenExpiration   int
	refreshExpiration int
	codeTTL           time.Duration
	tokenLookup       string
	authScheme        string
	issuer            string
	audience          []string
	refreshCookieName string
}

type ConfigOption func(*ConfigObject)

// WithTokenExpiration sets the access token lifetime in minutes.
func WithTokenExpiration(minutes int) ConfigOption {
	return func(c *ConfigObject) {
		if minutes > 0 {
			c.tokenExpiration = minutes
		}
	}
}

// WithRefreshExpiration sets the refresh token lifetime in days.
func WithRefreshExpiration(days int) ConfigOption {
	return func(c *ConfigObject) {
		if days > 0 {
			c.refreshExpiration = days
		}
	}
}

// WithCodeTTLOption sets the verification code lifetime.
func WithCodeTTLOption(ttl time.Duration) ConfigOption {
	return func(c *ConfigObject) {
		if ttl > 0 {
			c.codeTTL = ttl
		}
	}
}

// WithIssuer sets the iss claim on minted tokens.
func WithIssuer(issuer string) ConfigOption {
	return func(c *ConfigObject) {
		c.issuer = issuer
	}
}

// WithAudience sets the aud claim on minted tokens.
func WithAudience(audience ...string) ConfigOption {
	return func(c *ConfigObject) {
		c.audience = audience
	}
}

// WithContextKey sets the locals key for validated claims.
func WithContextKey(key string) ConfigOption {
	return func(c *ConfigObject) {
		if key != "" {
			c.contextKey = key
		}
	}
}

// WithTokenLookup sets the extractor chain, e.g. "header:Authorization".
func WithTokenLookup(lookup string) ConfigOption {
	return func(c *ConfigObject) {
		if lookup != "" {
			c.tokenLookup = lookup
		}
	}
}

// WithAuthScheme sets the Authorization header scheme.
func WithAuthScheme(scheme string) ConfigOption {
	return func(c *ConfigObject) {
		c.authScheme = scheme
	}
}

// WithRefreshCookieName sets the refresh token cookie name.
func WithRefreshCookieName(name string) ConfigOption {
	return func(c *ConfigObject) {
		if name != "" {
			c.refreshCookieName = name
		}
	}
}

// NewConfig creates a ConfigObject with sane defaults. The signing key is the
// only required value.
func NewConfig(signingKey string, opts ...ConfigOption) (*ConfigObject, error) {
	if signingKey == "" {
		return nil, ErrSigningKeyMissing
	}

	c := &ConfigObject{
		signingKey:        signingKey,
		signingMethod:     DefaultSigningMethod,
		contextKey:        DefaultContextKey,
		tokenExpiration:   DefaultTokenExpirationMinutes,
		refreshExpiration: DefaultRefreshExpirationDays,
		codeTTL:           DefaultCodeTTL,
		tokenLookup:       DefaultTokenLookup,
		authScheme:        DefaultAuthScheme,
		refreshCookieName: DefaultRefreshCookieName,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

func (c *ConfigObject) GetSigningKey() string        { return c.signingKey }
func (c *ConfigObject) GetSigningMethod() string     { return c.signingMethod }
func (c *ConfigObject) GetContextKey() string        { return c.contextKey }
func (c *ConfigObject) GetTokenExpiration() int      { return c.tokenExpiration }
func (c *ConfigObject) GetRefreshExpiration() int    { return c.refreshExpiration }
func (c *ConfigObject) GetCodeTTL() time.Duration    { return c.codeTTL }
func (c *ConfigObject) GetTokenLookup() string       { return c.tokenLookup }
func (c *ConfigObject) GetAuthScheme() string        { return c.authScheme }
func (c *ConfigObject) GetIssuer() string            { return c.issuer }
func (c *ConfigObject) GetAudience() []string        { return c.audience }
func (c *ConfigObject) GetRefreshCookieName() string { return c.refreshCookieName }

var _ Config = (*ConfigObject)(nil)
