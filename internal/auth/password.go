package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// minPassphraseLen follows the account policy of the member portal.
const minPassphraseLen = 12

var (
	ErrPassphraseTooShort = errors.New("passphrase must be at least 12 characters")
	ErrPassphraseMismatch = errors.New("passphrase does not match")
)

// HashPassphrase returns a bcrypt hash suitable for storage or the
// YES_STAFF_PASSPHRASE_HASH gate.
func HashPassphrase(passphrase string) (string, error) {
	if len(passphrase) < minPassphraseLen {
		return "", ErrPassphraseTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassphrase checks a plaintext passphrase against a stored hash.
func VerifyPassphrase(hash, passphrase string) error {
	if hash == "" || passphrase == "" {
		return ErrPassphraseMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)); err != nil {
		return ErrPassphraseMismatch
	}
	return nil
}
