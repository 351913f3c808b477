// Package security implements password hashing and recovery code generation.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters, fixed for hash stability across releases. Changing
// them would invalidate every stored password hash.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltBytes    = 16
)

// HashPassword derives a deterministic salted hash. The same password and salt
// always produce the same output, so verification is recompute-and-compare.
//
// Comparison is plain string equality to match existing behavior; a
// constant-time compare would be a reasonable hardening step.
func HashPassword(password, salt string) string {
	dk, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		// scrypt only fails on invalid cost parameters, which are constant here
		panic(fmt.Sprintf("scrypt: %v", err))
	}
	return hex.EncodeToString(dk)
}

// NewSalt returns a fresh random salt, hex-encoded.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewRecoveryCode returns a uniformly random 4-digit code in [1000, 9999).
// Collisions across users are acceptable: codes are keyed by handle.
func NewRecoveryCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(8999))
	if err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}
