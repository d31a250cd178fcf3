package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastParams = Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(fastParams)

	encoded, err := h.Hash("top-secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "argon2id$v=19$m=64,t=1,p=1$"))

	ok, err := Verify("top-secret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.Hash("top-secret")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salts differ")
}

func TestVerify_RejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"empty":       "",
		"wrong algo":  "bcrypt$v=19$m=64,t=1,p=1$c2FsdA$a2V5",
		"bad params":  "argon2id$v=19$m=x$c2FsdA$a2V5",
		"bad salt":    "argon2id$v=19$m=64,t=1,p=1$!!$a2V5",
		"missing key": "argon2id$v=19$m=64,t=1,p=1$c2FsdA$",
	}
	for name, encoded := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Verify("x", encoded)
			assert.ErrorIs(t, err, ErrInvalidHash)
		})
	}

	_, err := Verify("x", "argon2id$v=16$m=64,t=1,p=1$c2FsdA$a2V5")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestSecretVerifier(t *testing.T) {
	encoded, err := NewHasher(fastParams).Hash("webhook")
	require.NoError(t, err)

	v, err := NewSecretVerifier(encoded)
	require.NoError(t, err)
	assert.True(t, v.Verify("webhook"))
	assert.True(t, v.Verify("webhook"))
	assert.False(t, v.Verify("nope"))
	assert.Len(t, v.accepted, 1)

	_, err = NewSecretVerifier("garbage")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
