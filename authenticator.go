package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auther drives registration, two-factor verification, login, and session
// refresh against a UserStore. It implements the Authenticator interface.
type Auther struct {
	store        UserStore
	signingKey   []byte
	logger       Logger
	mailer       Mailer
	activitySink ActivitySink
	pending      *PendingRegistrations
	codes        *CodeGenerator
	tokenService TokenService
	refresh      *RefreshService
	hasher       PasswordAuthenticator
	dispatcher   *VerificationMailDispatcher
	now          func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(store UserStore, opts Config) (*Auther, error) {
	tokenService, err := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetTokenExpiration(),
		opts.GetIssuer(),
		jwt.ClaimStrings(opts.GetAudience()),
		defLogger{},
	)
	if err != nil {
		return nil, err
	}

	codeTTL := opts.GetCodeTTL()
	if codeTTL <= 0 {
		codeTTL = DefaultCodeTTL
	}

	logger := defLogger{}
	mailer := noopMailer{}

	a := &Auther{
		store:        store,
		signingKey:   []byte(opts.GetSigningKey()),
		logger:       logger,
		mailer:       mailer,
		activitySink: noopActivitySink{},
		pending:      NewPendingRegistrations(WithPendingTTL(codeTTL)),
		codes:        NewCodeGenerator(WithCodeTTL(codeTTL)),
		tokenService: tokenService,
		refresh:      NewRefreshService(store, tokenService, opts.GetRefreshExpiration(), logger),
		hasher:       NewPasswordAuthenticator(),
		now:          time.Now,
	}
	a.dispatcher = NewVerificationMailDispatcher(mailer, logger, a.activitySink)

	return a, nil
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger == nil {
		return s
	}
	s.logger = logger
	s.refresh.logger = logger
	s.dispatcher = NewVerificationMailDispatcher(s.mailer, logger, s.activitySink)
	return s
}

// WithMailer sets the delivery channel for verification codes.
func (s *Auther) WithMailer(mailer Mailer) *Auther {
	if mailer == nil {
		return s
	}
	s.mailer = mailer
	s.dispatcher = NewVerificationMailDispatcher(mailer, s.logger, s.activitySink)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	s.dispatcher = NewVerificationMailDispatcher(s.mailer, s.logger, s.activitySink)
	return s
}

// WithPendingRegistrations swaps in a caller-owned staging area.
func (s *Auther) WithPendingRegistrations(pending *PendingRegistrations) *Auther {
	if pending != nil {
		s.pending = pending
	}
	return s
}

// WithCodeGenerator swaps in a caller-owned code generator.
func (s *Auther) WithCodeGenerator(codes *CodeGenerator) *Auther {
	if codes != nil {
		s.codes = codes
	}
	return s
}

// WithPasswordAuthenticator swaps the password hasher.
func (s *Auther) WithPasswordAuthenticator(hasher PasswordAuthenticator) *Auther {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// RegistrationInput carries the fields a new account starts from. Phone is
// optional.
type RegistrationInput struct {
	Username string
	Email    string
	Password string
	Phone    string
}

// Register stages a new account and mails its verification code. Nothing is
// persisted until VerifyRegistration succeeds.
func (s *Auther) Register(ctx context.Context, username, email, password string) (*RegistrationChallenge, error) {
	return s.RegisterAccount(ctx, RegistrationInput{
		Username: username,
		Email:    email,
		Password: password,
	})
}

// RegisterAccount is Register with the full input set.
func (s *Auther) RegisterAccount(ctx context.Context, input RegistrationInput) (*RegistrationChallenge, error) {
	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	if err := s.ensureAvailable(ctx, input.Username, input.Email); err != nil {
		s.emit(ctx, ActivityEventRegisterFailure, input.Username, "", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	code, err := s.codes.Generate()
	if err != nil {
		return nil, err
	}

	candidate := &User{
		Username:              input.Username,
		Email:                 input.Email,
		Phone:                 input.Phone,
		PasswordHash:          hash,
		RegisterCode:          code.Code,
		RegisterCodeExpiresAt: &code.ExpiresAt,
	}

	// A repeat registration for the same username replaces the staged entry
	// and its code.
	s.pending.Put(candidate)

	s.dispatcher.Dispatch(SendVerificationCodeMessage{
		To:       input.Email,
		Username: input.Username,
		Code:     code.Code,
		Flow:     VerificationFlowRegister,
	})

	s.emit(ctx, ActivityEventRegisterStaged, input.Username, "", map[string]any{
		"email": input.Email,
	})

	return &RegistrationChallenge{
		Username:      input.Username,
		Email:         input.Email,
		CodeExpiresAt: code.ExpiresAt,
	}, nil
}

// VerifyRegistration consumes a staged registration when code matches, and
// persists the account. The staged entry survives a wrong code but not a
// correct one.
func (s *Auther) VerifyRegistration(ctx context.Context, username, code string) error {
	candidate, ok := s.pending.Get(username)
	if !ok {
		return ErrRegistrationNotFound
	}

	if !candidate.RegisterCodeMatches(code, s.now()) {
		s.emit(ctx, ActivityEventRegisterFailure, username, "", map[string]any{
			"error": ErrVerificationCode.Error(),
		})
		return ErrVerificationCode
	}

	// Consume the entry; under racing verifies only one caller gets it.
	candidate, ok = s.pending.Take(username)
	if !ok {
		return ErrRegistrationNotFound
	}

	// Promote a copy with the code slots cleared. The staged candidate keeps
	// its code intact so a failed promotion stays retryable with the same
	// code.
	record := *candidate
	record.RegisterCode = ""
	record.RegisterCodeExpiresAt = nil

	persisted, err := s.store.Promote(ctx, &record)
	if err != nil {
		// Re-stage the untouched candidate so a transient storage failure is
		// retryable. A real conflict just expires with it.
		s.pending.Put(candidate)
		s.logger.Error("failed to promote registration for %s: %s", username, err)
		return err
	}

	s.emit(ctx, ActivityEventRegisterConfirmed, username, persisted.ID.String(), nil)

	return nil
}

// Login checks credentials, then either issues a session directly for a
// trusted device or stages a login challenge. The result never carries both
// a challenge and tokens.
func (s *Auther) Login(ctx context.Context, username, password, fingerprint string) (*LoginResult, error) {
	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if isStoreNotFound(err) {
			// Same rejection as a bad password so usernames cannot be probed.
			s.emit(ctx, ActivityEventLoginFailure, username, "", map[string]any{
				"error": ErrIdentityNotFound.Error(),
			})
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, WrapPersistenceFailure(err, "failed to load user for login")
	}

	if err := s.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		s.emit(ctx, ActivityEventLoginFailure, username, user.ID.String(), map[string]any{
			"error": err.Error(),
		})
		return nil, ErrMismatchedHashAndPassword
	}

	if user.HasTrustedDevice(fingerprint) {
		tokens, err := s.refresh.Issue(ctx, user)
		if err != nil {
			return nil, err
		}

		s.emit(ctx, ActivityEventLoginSuccess, username, user.ID.String(), nil)

		return &LoginResult{Tokens: tokens}, nil
	}

	code, err := s.codes.Generate()
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveLoginChallenge(ctx, user.ID, code.Code, code.ExpiresAt); err != nil {
		return nil, WrapPersistenceFailure(err, "failed to persist login challenge")
	}

	s.dispatcher.Dispatch(SendVerificationCodeMessage{
		To:       user.Email,
		Username: user.Username,
		Code:     code.Code,
		Flow:     VerificationFlowLogin,
	})

	s.emit(ctx, ActivityEventLoginChallengeIssued, username, user.ID.String(), map[string]any{
		"fingerprint": fingerprint,
	})

	return &LoginResult{
		TwoFactorRequired: true,
		CodeExpiresAt:     code.ExpiresAt,
	}, nil
}

// VerifyLogin completes a step-up challenge: on a code match the device
// fingerprint becomes trusted, the challenge is cleared, and a session is
// issued.
func (s *Auther) VerifyLogin(ctx context.Context, username, code, fingerprint string) (*SessionTokens, error) {
	user, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if isStoreNotFound(err) {
			return nil, ErrVerificationCode
		}
		return nil, WrapPersistenceFailure(err, "failed to load user for login verification")
	}

	if !user.LoginCodeMatches(code, s.now()) {
		s.emit(ctx, ActivityEventLoginChallengeFailed, username, user.ID.String(), nil)
		return nil, ErrVerificationCode
	}

	if err := s.store.TrustDevice(ctx, user.ID, fingerprint); err != nil {
		return nil, WrapPersistenceFailure(err, "failed to trust device")
	}

	tokens, err := s.refresh.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEventLoginChallengePassed, username, user.ID.String(), map[string]any{
		"fingerprint": fingerprint,
	})

	return tokens, nil
}

// RefreshSession exchanges a refresh token for a new session pair, rotating
// the stored token.
func (s *Auther) RefreshSession(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	tokens, err := s.refresh.Exchange(ctx, refreshToken)
	if err != nil {
		s.emit(ctx, ActivityEventSessionRefreshRejected, "", "", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	s.emit(ctx, ActivityEventSessionRefreshed, "", "", nil)

	return tokens, nil
}

func (s *Auther) ensureAvailable(ctx context.Context, username, email string) error {
	if _, err := s.store.GetByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !isStoreNotFound(err) {
		return WrapPersistenceFailure(err, "failed to check username availability")
	}

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	} else if !isStoreNotFound(err) {
		return WrapPersistenceFailure(err, "failed to check email availability")
	}

	return nil
}

func (s *Auther) emit(ctx context.Context, eventType ActivityEventType, username, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Username:   username,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}

	if err := s.activitySink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink rejected %s event: %s", eventType, err)
	}
}

var _ Authenticator = (*Auther)(nil)
