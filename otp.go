package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultCodeTTL is the authoritative lifetime for both registration and
// login verification codes.
const DefaultCodeTTL = 5 * time.Minute

const (
	codeMin  = 100000
	codeSpan = 900000
)

// VerificationCode pairs a one-time numeric code with its expiry.
type VerificationCode struct {
	Code      string
	ExpiresAt time.Time
}

// CodeGenerator produces 6-digit one-time codes from a CSPRNG. The zero
// value is not usable; construct with NewCodeGenerator.
type CodeGenerator struct {
	ttl time.Duration
	now func() time.Time
}

type CodeGeneratorOption func(*CodeGenerator)

// WithCodeTTL overrides the default code lifetime.
func WithCodeTTL(ttl time.Duration) CodeGeneratorOption {
	return func(g *CodeGenerator) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithCodeClock overrides the clock, for tests.
func WithCodeClock(now func() time.Time) CodeGeneratorOption {
	return func(g *CodeGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewCodeGenerator will create a CodeGenerator with the default TTL.
func NewCodeGenerator(opts ...CodeGeneratorOption) *CodeGenerator {
	g := &CodeGenerator{
		ttl: DefaultCodeTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// TTL returns the configured code lifetime.
func (g *CodeGenerator) TTL() time.Duration {
	return g.ttl
}

// Generate draws a code uniformly from [100000, 999999] and stamps it with
// now + TTL.
func (g *CodeGenerator) Generate() (VerificationCode, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return VerificationCode{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random source")
	}

	return VerificationCode{
		Code:      fmt.Sprintf("%06d", n.Int64()+codeMin),
		ExpiresAt: g.now().Add(g.ttl),
	}, nil
}
