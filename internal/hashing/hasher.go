// Package hashing stores and checks shared webhook secrets as argon2id
// hashes, so the plain secret never sits in configuration.
package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the OWASP minimum for argon2id.
var DefaultParams = Argon2Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type Hasher struct {
	params Argon2Params
}

func NewHasher(params Argon2Params) *Hasher {
	return &Hasher{params: params}
}

// Hash encodes secret as argon2id$v=19$m=..,t=..,p=..$salt$key.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify reports whether secret matches encoded. The parameters stored in
// encoded win over the hasher's own.
func Verify(secret, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}
	if version != argon2.Version {
		return false, ErrIncompatibleVersion
	}

	var p Argon2Params
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false, ErrInvalidHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(expected) == 0 {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// SecretVerifier checks presented secrets against one stored hash. Accepted
// secrets are remembered by digest so repeat callers skip the argon2 cost.
type SecretVerifier struct {
	encoded  string
	mu       sync.RWMutex
	accepted map[[sha256.Size]byte]struct{}
}

func NewSecretVerifier(encoded string) (*SecretVerifier, error) {
	// Verifying against a throwaway value validates the encoding up front.
	if _, err := Verify("", encoded); err != nil {
		return nil, err
	}
	return &SecretVerifier{encoded: encoded, accepted: make(map[[sha256.Size]byte]struct{})}, nil
}

func (v *SecretVerifier) Verify(secret string) bool {
	digest := sha256.Sum256([]byte(secret))

	v.mu.RLock()
	_, ok := v.accepted[digest]
	v.mu.RUnlock()
	if ok {
		return true
	}

	match, err := Verify(secret, v.encoded)
	if err != nil || !match {
		return false
	}
	v.mu.Lock()
	v.accepted[digest] = struct{}{}
	v.mu.Unlock()
	return true
}
