package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	h := NewHasher(Params{Memory: 8 * 1024, Time: 1, Parallelism: 1})

	encoded, err := h.Hash("hunter2!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$"))

	ok, err := h.Verify("hunter2!", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("hunter3!", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	h := NewHasher(Params{Memory: 8 * 1024, Time: 1, Parallelism: 1})

	a, err := h.Hash("same password")
	require.NoError(t, err)
	b, err := h.Hash("same password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyMalformed(t *testing.T) {
	h := NewHasher(DefaultParams)

	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5",
	} {
		_, err := h.Verify("password", bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := NewHasher(Params{Memory: 8 * 1024, Time: 1, Parallelism: 1})
	strong := NewHasher(Params{Memory: 64 * 1024, Time: 3, Parallelism: 4})

	encoded, err := weak.Hash("hunter2!")
	require.NoError(t, err)

	assert.True(t, strong.NeedsRehash(encoded))
	assert.False(t, weak.NeedsRehash(encoded))
	assert.True(t, strong.NeedsRehash("garbage"))

	// Old hashes still verify under the new hasher.
	ok, err := strong.Verify("hunter2!", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}
