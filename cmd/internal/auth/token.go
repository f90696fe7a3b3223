// Package auth verifies the opaque credential a client presents when opening
// a chat connection. Issuing flows (signup, login, passwords) live outside
// this server; only verification and token storage are needed here.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	// ErrInvalidToken is returned for unknown or malformed credentials.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenExpired is returned for known but expired credentials.
	ErrTokenExpired = errors.New("auth: token expired")
)

// Identity is the result of verifying a credential.
//
// ActorID is set when an admin is impersonating the participant; the
// connection then acts as ParticipantID while ActorID is kept for audit logs.
type Identity struct {
	ParticipantID string
	ActorID       string
}

// Verifier validates a connect-time credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// NewOpaqueToken returns a fresh random token and its storable SHA-256 hash.
// Only the hash is ever persisted.
func NewOpaqueToken() (plain, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	plain = hex.EncodeToString(b)
	return plain, HashToken(plain), nil
}

// HashToken returns the hex SHA-256 of a plain token.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
