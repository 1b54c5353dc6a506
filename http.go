package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-device-auth/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// HTTPAuthenticator is the surface the controller needs from the HTTP
// binding.
type HTTPAuthenticator interface {
	Authenticator() Authenticator
	Gate() router.MiddlewareFunc
	ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc
	SetSessionCookies(ctx router.Context, tokens *SessionTokens)
	ClearSessionCookies(ctx router.Context)
	RefreshCookie(ctx router.Context) string
}

// RouteAuthenticator binds an Authenticator to go-router: it builds the
// request gate, issues and clears the refresh cookie, and turns auth errors
// into JSON responses.
type RouteAuthenticator struct {
	auth         Authenticator
	cfg          Config
	validator    TokenService
	Logger       Logger
	ErrorHandler func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auther Authenticator, cfg Config) (*RouteAuthenticator, error) {
	validator, err := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		defLogger{},
	)
	if err != nil {
		return nil, err
	}

	a := &RouteAuthenticator{
		cfg:       cfg,
		auth:      auther,
		validator: validator,
		Logger:    defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler

	return a, nil
}

// Authenticator exposes the wrapped Authenticator.
func (a *RouteAuthenticator) Authenticator() Authenticator {
	return a.auth
}

// Gate returns the fleet-wide interceptor. Requests without a token pass
// through anonymously; requests with a valid token get claims attached;
// expired tokens are transparently refreshed off the cookie; everything else
// is rejected.
func (a *RouteAuthenticator) Gate() router.MiddlewareFunc {
	return jwtware.New(a.middlewareConfig(true, nil))
}

// ProtectedRoute returns a middleware that requires a valid session. It still
// performs the transparent refresh for expired tokens.
func (a *RouteAuthenticator) ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return jwtware.New(a.middlewareConfig(false, errorHandler))
}

func (a *RouteAuthenticator) middlewareConfig(optional bool, errorHandler func(router.Context, error) error) jwtware.Config {
	if errorHandler == nil {
		errorHandler = a.MakeClientRouteAuthErrorHandler(optional)
	}

	return jwtware.Config{
		ErrorHandler: errorHandler,
		SigningKey: jwtware.SigningKey{
			Key:    []byte(a.cfg.GetSigningKey()),
			JWTAlg: a.cfg.GetSigningMethod(),
		},
		AuthScheme:        a.cfg.GetAuthScheme(),
		ContextKey:        a.cfg.GetContextKey(),
		TokenLookup:       a.cfg.GetTokenLookup(),
		TokenValidator:    tokenValidatorAdapter{service: a.validator},
		Optional:          optional,
		Refresher:         sessionRefresher(a.auth),
		RefreshCookieName: a.cfg.GetRefreshCookieName(),
		CookieSecure:      true,
		ContextEnricher: func(c context.Context, claims jwtware.AuthClaims) context.Context {
			if authClaims, ok := claims.(AuthClaims); ok {
				return WithClaimsContext(c, authClaims)
			}
			return c
		},
	}
}

// SetSessionCookies stores the refresh token in its HTTP-only cookie.
func (a *RouteAuthenticator) SetSessionCookies(ctx router.Context, tokens *SessionTokens) {
	ctx.Cookie(&router.Cookie{
		Name:     a.cfg.GetRefreshCookieName(),
		Value:    tokens.RefreshToken,
		Expires:  tokens.RefreshExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
}

// ClearSessionCookies expires the refresh cookie.
func (a *RouteAuthenticator) ClearSessionCookies(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     a.cfg.GetRefreshCookieName(),
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
}

// RefreshCookie reads the refresh token cookie off the request.
func (a *RouteAuthenticator) RefreshCookie(ctx router.Context) string {
	return ctx.Cookies(a.cfg.GetRefreshCookieName())
}

// MakeClientRouteAuthErrorHandler normalizes middleware failures into rich
// errors before responding. In optional mode the request proceeds
// anonymously instead.
func (a *RouteAuthenticator) MakeClientRouteAuthErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		if IsTokenExpiredError(err) {
			richErr = ErrTokenExpired
		} else if IsMalformedError(err) {
			richErr = ErrTokenMalformed
		} else if errors.As(err, &richErr) {
			// keep the rich error as is
		} else {
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized)
		}

		if optional && !IsTokenExpiredError(err) && !IsMalformedError(err) && !isSessionError(err) {
			a.Logger.Info("optional auth failed, proceeding: %s", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

// isSessionError flags refresh failures, which fail closed even on optional
// routes: a request that presented a session never proceeds anonymously.
func isSessionError(err error) bool {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.TextCode == TextCodeRefreshToken {
		return true
	}
	return errors.Is(err, jwtware.ErrRefreshTokenRequired)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info("authentication error on %s: %s", c.OriginalURL(), richErr.Message)

	return c.JSON(statusFromError(richErr), errorBody(richErr))
}

func statusFromError(err *errors.Error) int {
	if err.Code > 0 {
		return err.Code
	}

	switch err.Category {
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err *errors.Error) map[string]any {
	body := map[string]any{
		"error": err.Message,
	}
	if err.TextCode != "" {
		body["code"] = err.TextCode
	}
	return body
}

type tokenValidatorAdapter struct {
	service TokenService
}

func (v tokenValidatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := v.service.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func sessionRefresher(auth Authenticator) jwtware.RefresherFunc {
	return func(ctx context.Context, refreshToken string) (jwtware.RefreshedSession, error) {
		tokens, err := auth.RefreshSession(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		return tokens, nil
	}
}

var _ HTTPAuthenticator = (*RouteAuthenticator)(nil)
