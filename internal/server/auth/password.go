package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns raw passwords into storable hashes and checks them.
type PasswordHasher interface {
	Hash(raw string) (string, error)
	Compare(hash, raw string) bool
	// CompareDummy burns the same CPU as Compare against a throwaway hash.
	// Callers use it when no account matched so that response timing does not
	// reveal whether the email exists.
	CompareDummy(raw string)
}

// BcryptHasher implements PasswordHasher with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(raw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Compare(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

func (h *BcryptHasher) CompareDummy(raw string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(raw))
}
