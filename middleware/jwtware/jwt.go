package jwtware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization

	ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")
	// ErrRefreshTokenRequired is returned when an expired access token could
	// be refreshed but the request carries no refresh cookie.
	ErrRefreshTokenRequired = errors.New("Token expired. Refresh token is required.")
)

// TokenValidator interface for validating tokens without import cycles
// This mirrors the TokenService.Validate method from the auth package
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// AuthClaims interface for structured claims without import cycles
// This mirrors the AuthClaims interface from the auth package
type AuthClaims interface {
	Subject() string
	Username() string
	Expires() time.Time
	IssuedAt() time.Time
}

// RefreshedSession is the token pair a successful refresh produces. It
// mirrors auth.SessionTokens.
type RefreshedSession interface {
	GetAccessToken() string
	GetRefreshToken() string
	GetRefreshExpiry() time.Time
}

// SessionRefresher exchanges a refresh token for a new session. It mirrors
// the Authenticator.RefreshSession method from the auth package.
type SessionRefresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (RefreshedSession, error)
}

// RefresherFunc adapts a function into a SessionRefresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (RefreshedSession, error)

// RefreshSession satisfies SessionRefresher.
func (f RefresherFunc) RefreshSession(ctx context.Context, refreshToken string) (RefreshedSession, error) {
	return f(ctx, refreshToken)
}

// ValidationListener is invoked after a token has been validated, before the
// request proceeds.
type ValidationListener func(ctx router.Context, claims AuthClaims) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	SigningKey     SigningKey
	SigningKeys    map[string]SigningKey
	ContextKey     string
	TokenLookup    string
	AuthScheme     string
	KeyFunc        jwt.Keyfunc
	JWKSetURLs     []string

	// TokenValidator is required for token validation
	TokenValidator TokenValidator

	// Optional makes the middleware pass requests with no token through
	// untouched. Requests that do carry a token are still validated and
	// rejected on failure. This is what a fleet-wide interceptor wants:
	// anonymous endpoints keep working, bad tokens never do.
	Optional bool

	// Refresher, when set, turns an expired-token rejection into a refresh
	// attempt against the RefreshCookieName cookie. On success the new access
	// token is attached to the response Authorization header so clients can
	// pick it up without replaying the request.
	Refresher SessionRefresher

	// RefreshCookieName is the cookie holding the refresh token. Defaults to
	// "refresh_token".
	RefreshCookieName string

	// CookieSecure and CookieDomain shape the re-issued refresh cookie after
	// a successful rotation.
	CookieSecure bool
	CookieDomain string

	// ContextEnricher is an optional function to propagate claims to the standard
	// Go context. If provided, it will be called after successful token validation.
	ContextEnricher func(c context.Context, claims AuthClaims) context.Context

	// ValidationListeners are invoked after token validation succeeds. Use them to
	// emit events or perform bookkeeping before the request proceeds.
	ValidationListeners []ValidationListener
}

type SigningKey struct {
	JWTAlg string
	Key    any
}

func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			a, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				if cfg.Optional {
					return ctx.Next()
				}
				return cfg.ErrorHandler(ctx, err)
			}

			claims, err := cfg.TokenValidator.Validate(a)
			if err != nil {
				if cfg.Refresher != nil && isTokenExpired(err) {
					return cfg.refreshSession(ctx)
				}
				// Malformed tokens fail closed even in Optional mode: a
				// present-but-bad credential is a rejection, not anonymity.
				return cfg.ErrorHandler(ctx, err)
			}

			return cfg.proceed(ctx, claims)
		}
	}
}

// refreshSession performs the transparent refresh: exactly one exchange
// attempt, then the request continues as authenticated or is rejected.
func (cfg *Config) refreshSession(ctx router.Context) error {
	refreshToken := ctx.Cookies(cfg.RefreshCookieName)
	if refreshToken == "" {
		return cfg.ErrorHandler(ctx, ErrRefreshTokenRequired)
	}

	session, err := cfg.Refresher.RefreshSession(ctx.Context(), refreshToken)
	if err != nil {
		return cfg.ErrorHandler(ctx, err)
	}

	// Surface the new access token on the response so the client can swap
	// its stale copy without replaying the request.
	ctx.SetHeader(router.HeaderAuthorization, cfg.AuthScheme+" "+session.GetAccessToken())
	cfg.setRefreshCookie(ctx, session)

	claims, err := cfg.TokenValidator.Validate(session.GetAccessToken())
	if err != nil {
		return cfg.ErrorHandler(ctx, err)
	}

	return cfg.proceed(ctx, claims)
}

func (cfg *Config) proceed(ctx router.Context, claims AuthClaims) error {
	if err := cfg.runValidationListeners(ctx, claims); err != nil {
		return cfg.ErrorHandler(ctx, err)
	}

	ctx.Locals(cfg.ContextKey, claims)

	// if a context enricher we use it to propagate claims to the standard context
	if cfg.ContextEnricher != nil {
		stdCtx := ctx.Context()
		stdCtxWithClaims := cfg.ContextEnricher(stdCtx, claims)
		ctx.SetContext(stdCtxWithClaims)
	}

	return cfg.SuccessHandler(ctx)
}

func (cfg *Config) setRefreshCookie(ctx router.Context, session RefreshedSession) {
	ctx.Cookie(&router.Cookie{
		Name:     cfg.RefreshCookieName,
		Value:    session.GetRefreshToken(),
		Expires:  session.GetRefreshExpiry(),
		Domain:   cfg.CookieDomain,
		HTTPOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: "Strict",
	})
}

// isTokenExpired matches the validator's expired rejection without importing
// the auth package. Validators that wrap the parser error keep
// jwt.ErrTokenExpired in the chain; ones that return their own error carry
// either the plain parser text or a TOKEN_EXPIRED text code in the message.
func isTokenExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "token is expired") || strings.Contains(msg, "TOKEN_EXPIRED")
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if err.Error() == ErrJWTMissingOrMalformed.Error() {
				return c.Status(router.StatusBadRequest).SendString(ErrJWTMissingOrMalformed.Error())
			}
			if err.Error() == ErrRefreshTokenRequired.Error() {
				return c.Status(router.StatusUnauthorized).SendString(ErrRefreshTokenRequired.Error())
			}
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
		}
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: JWT middleware configuration: TokenValidator is required.")
	}

	if cfg.SigningKey.Key == nil && len(cfg.SigningKeys) == 0 && len(cfg.JWKSetURLs) == 0 && cfg.KeyFunc == nil {
		panic("AUTH: JWT middleware configuration: At least one of the following is required: KeyFunc, JWKSetURLs, SigningKeys, or SigningKey.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = "refresh_token"
	}

	if cfg.KeyFunc == nil {
		if len(cfg.SigningKeys) > 0 || len(cfg.JWKSetURLs) > 0 {
			var givenKeys map[string]keyfunc.GivenKey
			if cfg.SigningKeys != nil {
				givenKeys = make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
				for kid, key := range cfg.SigningKeys {
					givenKeys[kid] = keyfunc.NewGivenCustom(key.Key, keyfunc.GivenKeyOptions{
						Algorithm: key.JWTAlg,
					})
				}
			}
			if len(cfg.JWKSetURLs) > 0 {
				var err error
				cfg.KeyFunc, err = multiKeyfunc(givenKeys, cfg.JWKSetURLs)
				if err != nil {
					panic("Failed to create keyfunc from JWK Set URL: " + err.Error())
				}
			} else {
				cfg.KeyFunc = keyfunc.NewGiven(givenKeys).Keyfunc
			}
		} else {
			cfg.KeyFunc = signingKeyFunc(cfg.SigningKey)
		}
	}

	return cfg
}

func multiKeyfunc(givenKeys map[string]keyfunc.GivenKey, jwtSetUrls []string) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(givenKeys)
	m := make(map[string]keyfunc.Options, len(jwtSetUrls))
	for _, url := range jwtSetUrls {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(givenKeys map[string]keyfunc.GivenKey) keyfunc.Options {
	return keyfunc.Options{
		GivenKeys: givenKeys,
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, claims AuthClaims) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, claims); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		//header:Authorization
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, jwtFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(parts[1]))
		}
	}

	return extractors
}

type JWTExtractor func(c router.Context) (string, error)

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			fmt.Println("[WARNING] Missing auth scheme in config definition")
			return "", ErrJWTMissingOrMalformed
		}
		authScheme = strings.TrimSpace(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func signingKeyFunc(key SigningKey) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if key.JWTAlg != "" {
			alg, ok := token.Header["alg"].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected JWT signing method: expected %q got: missing json type", key.JWTAlg)
			}
			if alg != key.JWTAlg {
				return nil, fmt.Errorf("unexpected jwt signing method: expected: %q: got: %q", key.JWTAlg, alg)
			}
		}
		return key.Key, nil
	}
}
