package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor used to hash passwords. Tests lower it to
// keep hashing fast.
var BcryptCost = 14

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

type bcryptHasher struct{}

// NewPasswordAuthenticator returns the bcrypt backed PasswordAuthenticator.
func NewPasswordAuthenticator() PasswordAuthenticator {
	return bcryptHasher{}
}

func (bcryptHasher) HashPassword(password string) (string, error) {
	return HashPassword(password)
}

func (bcryptHasher) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}
