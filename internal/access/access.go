// Package access decides whether a request may read the message listing.
package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// ErrNoGate is returned when neither an access id nor an access hash is configured.
var ErrNoGate = errors.New("access: no listing credential configured")

// Gate reports whether credential grants access to the listing.
type Gate interface {
	Allow(ctx context.Context, credential string) bool
}

// Sentinel grants access when the credential is the decimal form of ID.
type Sentinel struct {
	ID int
}

// Allow implements Gate.
func (s Sentinel) Allow(_ context.Context, credential string) bool {
	id, err := strconv.Atoi(credential)
	if err != nil {
		return false
	}
	return id == s.ID
}

// HashedToken grants access when the credential matches a bcrypt hash.
type HashedToken struct {
	hash []byte
}

// NewHashedToken validates hash and returns a gate for it.
func NewHashedToken(hash string) (*HashedToken, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("access: invalid bcrypt hash: %w", err)
	}
	return &HashedToken{hash: []byte(hash)}, nil
}

// Allow implements Gate.
func (h *HashedToken) Allow(_ context.Context, credential string) bool {
	if credential == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(h.hash, []byte(credential)) == nil
}

// HashCredential returns a bcrypt hash suitable for LIST_ACCESS_HASH.
func HashCredential(credential string) (string, error) {
	if credential == "" {
		return "", errors.New("access: credential must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// New builds the configured gate. A hash wins over a plain id.
func New(accessID *int, accessHash string) (Gate, error) {
	if accessHash != "" {
		return NewHashedToken(accessHash)
	}
	if accessID != nil {
		return Sentinel{ID: *accessID}, nil
	}
	return nil, ErrNoGate
}
