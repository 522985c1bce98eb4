package mfa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher derives the stored form of a code. Hashes are bound to the
// transfer id so a hash cannot be replayed against another challenge.
type Hasher interface {
	Hash(transferID, code string) (string, error)
	Verify(transferID, code, hash string) bool
}

// NewHasher returns the hasher for algorithm ("hmac" or "bcrypt").
func NewHasher(algorithm, secret string) (Hasher, error) {
	switch algorithm {
	case "", "hmac":
		return NewHMACHasher(secret), nil
	case "bcrypt":
		return NewBcryptHasher(bcrypt.DefaultCost), nil
	default:
		return nil, fmt.Errorf("unknown mfa hash algorithm %q", algorithm)
	}
}

func material(transferID, code string) []byte {
	return []byte(transferID + ":" + code)
}

// HMACHasher is HMAC-SHA256 keyed with a server secret.
type HMACHasher struct {
	secret []byte
}

// NewHMACHasher creates an HMAC hasher.
func NewHMACHasher(secret string) *HMACHasher {
	return &HMACHasher{secret: []byte(secret)}
}

func (h *HMACHasher) Hash(transferID, code string) (string, error) {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(material(transferID, code))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (h *HMACHasher) Verify(transferID, code, hash string) bool {
	expected, _ := h.Hash(transferID, code)
	return hmac.Equal([]byte(expected), []byte(hash))
}

// BcryptHasher stores codes with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher with the given cost.
func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(transferID, code string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(material(transferID, code), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash mfa code: %w", err)
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(transferID, code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), material(transferID, code)) == nil
}
