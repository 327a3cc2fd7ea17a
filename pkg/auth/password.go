// Package auth hashes and checks the passwords of gateways publishing to the
// embedded broker.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const saltBytes = 16

// HashPasswordWithSalt returns the hex SHA-256 digest of password+salt.
func HashPasswordWithSalt(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// VerifyPassword compares password against a stored hash in constant time.
func VerifyPassword(password, salt, hash string) bool {
	if hash == "" {
		return false
	}
	got := HashPasswordWithSalt(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}

// RandomHex generates a random hexadecimal string of n bytes
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateHashAndSalt creates a new random salt and hashes the password with it
func GenerateHashAndSalt(password string) (hash string, salt string, err error) {
	salt, err = RandomHex(saltBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	return HashPasswordWithSalt(password, salt), salt, nil
}
