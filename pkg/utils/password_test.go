package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hashed, err := HashPassword("segredo123")
	require.NoError(t, err)
	assert.NotEqual(t, "segredo123", hashed)

	assert.True(t, CheckPassword("segredo123", hashed))
	assert.False(t, CheckPassword("outra-senha", hashed))
	assert.False(t, CheckPassword("segredo123", "not-a-hash"))
}

func TestHashPasswordTooShort(t *testing.T) {
	_, err := HashPassword("abc")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}
