package auth

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/nyaruka/phonenumbers"
)

// FingerprintHeader identifies the client device on login and step-up
// requests.
const FingerprintHeader = "device-fingerprint"

// AccountRegisterer is implemented by authenticators that accept the full
// registration input, including the optional phone number.
type AccountRegisterer interface {
	RegisterAccount(ctx context.Context, input RegistrationInput) (*RegistrationChallenge, error)
}

// RegisterAuthRoutes mounts the authentication endpoints on app.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	app.
		Post(controller.Routes.Register, controller.RegistrationCreate).
		SetName("auth.register.post")

	app.
		Post(controller.Routes.VerifyRegister, controller.RegistrationVerify).
		SetName("auth.register-verify.post")

	app.
		Post(controller.Routes.Login, controller.LoginPost).
		SetName("auth.login.post")

	app.
		Post(controller.Routes.VerifyLogin, controller.LoginVerify).
		SetName("auth.login-verify.post")

	app.
		Post(controller.Routes.RefreshToken, controller.RefreshToken).
		SetName("auth.refresh.post")

	app.
		Post(controller.Routes.Logout, controller.LogOut).
		SetName("auth.logout.post")
}

type AuthControllerRoutes struct {
	Register       string
	VerifyRegister string
	Login          string
	VerifyLogin    string
	RefreshToken   string
	Logout         string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Routes       *AuthControllerRoutes
	Auther       HTTPAuthenticator
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerAuthenticator(auther HTTPAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = logger
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerErrorHandler(handler router.ErrorHandler) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.ErrorHandler = handler
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Register:       "/auth/register",
			VerifyRegister: "/auth/verify-2fa-register",
			Login:          "/auth/login",
			VerifyLogin:    "/auth/verify-2fa-login",
			RefreshToken:   "/auth/refresh-token",
			Logout:         "/auth/logout",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in auth controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.respondError
	}

	return c
}

type RegistrationCreatePayload struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Phone    string `json:"phone" form:"phone"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.By(ValidatePhoneNumber)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
	)
}

// ValidatePhoneNumber accepts empty values and otherwise requires a
// parseable, valid number.
func ValidatePhoneNumber(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}

	num, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return err
	}

	if !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}

	return nil
}

func (a *AuthController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]any{
			"validation": err.Error(),
		})
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	auth := a.Auther.Authenticator()

	var challenge *RegistrationChallenge
	var err error

	if registerer, ok := auth.(AccountRegisterer); ok {
		challenge, err = registerer.RegisterAccount(ctx.Context(), RegistrationInput{
			Username: payload.Username,
			Email:    payload.Email,
			Password: payload.Password,
			Phone:    payload.Phone,
		})
	} else {
		challenge, err = auth.Register(ctx.Context(), payload.Username, payload.Email, payload.Password)
	}

	if err != nil {
		a.Logger.Error("registration error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusAccepted, map[string]any{
		"message":         "Verification code sent",
		"username":        challenge.Username,
		"email":           challenge.Email,
		"code_expires_at": challenge.CodeExpiresAt,
	})
}

type VerificationPayload struct {
	Username string `json:"username" form:"username"`
	Code     string `json:"code" form:"code"`
}

// Validate will run validation rules
func (r VerificationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

func (a *AuthController) RegistrationVerify(ctx router.Context) error {
	payload := new(VerificationPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]any{
			"validation": err.Error(),
		})
	}

	auth := a.Auther.Authenticator()

	if err := auth.VerifyRegistration(ctx.Context(), payload.Username, payload.Code); err != nil {
		a.Logger.Error("registration verify error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, map[string]any{
		"message":  "Registration complete",
		"username": payload.Username,
	})
}

type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]any{
			"validation": err.Error(),
		})
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	fingerprint := ctx.GetString(FingerprintHeader, "")
	auth := a.Auther.Authenticator()

	result, err := auth.Login(ctx.Context(), payload.Username, payload.Password, fingerprint)
	if err != nil {
		a.Logger.Error("login error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	if result.TwoFactorRequired {
		return ctx.JSON(fiber.StatusAccepted, map[string]any{
			"requires_two_factor": true,
			"message":             "Verification code sent",
			"code_expires_at":     result.CodeExpiresAt,
		})
	}

	a.Auther.SetSessionCookies(ctx, result.Tokens)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"token": result.Tokens.AccessToken,
	})
}

type LoginVerifyPayload struct {
	Username string `json:"username" form:"username"`
	Code     string `json:"code" form:"code"`
}

// Validate will run validation rules
func (r LoginVerifyPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

// LoginVerify completes a step-up challenge. The body carries only the
// access token; the refresh token travels exclusively in the session cookie
// so scripts never see it.
func (a *AuthController) LoginVerify(ctx router.Context) error {
	payload := new(LoginVerifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]any{
			"validation": err.Error(),
		})
	}

	fingerprint := ctx.GetString(FingerprintHeader, "")
	auth := a.Auther.Authenticator()

	tokens, err := auth.VerifyLogin(ctx.Context(), payload.Username, payload.Code, fingerprint)
	if err != nil {
		a.Logger.Error("login verify error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	a.Auther.SetSessionCookies(ctx, tokens)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"token": tokens.AccessToken,
	})
}

// RefreshToken exchanges the cookie-held refresh token for a new session
// pair. Clients normally never call this: the request gate refreshes
// transparently. The endpoint exists for clients that want an explicit
// refresh cycle.
func (a *AuthController) RefreshToken(ctx router.Context) error {
	refreshToken := a.Auther.RefreshCookie(ctx)
	if refreshToken == "" {
		return ctx.JSON(fiber.StatusUnauthorized, map[string]any{
			"error": "Token expired. Refresh token is required.",
		})
	}

	auth := a.Auther.Authenticator()

	tokens, err := auth.RefreshSession(ctx.Context(), refreshToken)
	if err != nil {
		a.Logger.Error("refresh error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	a.Auther.SetSessionCookies(ctx, tokens)

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"token": tokens.AccessToken,
	})
}

func (a *AuthController) LogOut(ctx router.Context) error {
	a.Auther.ClearSessionCookies(ctx)
	return ctx.JSON(fiber.StatusOK, map[string]any{
		"message": "Logged out",
	})
}

func (a *AuthController) respondError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ctx.JSON(statusFromError(richErr), errorBody(richErr))
	}

	return ctx.JSON(fiber.StatusBadRequest, map[string]any{
		"error": err.Error(),
	})
}
