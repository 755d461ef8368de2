package reposync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMismatchError(t *testing.T) {
	err := error(&HostMismatchError{
		Host:     "example.com",
		Port:     22,
		Expected: "SHA256:aaa",
		Got:      "SHA256:bbb",
	})

	assert.True(t, errors.Is(err, ErrHostMismatch), "should unwrap to the sentinel")

	var mismatch *HostMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "SHA256:aaa", mismatch.Expected)
	assert.Equal(t, "SHA256:bbb", mismatch.Got)
	assert.Contains(t, err.Error(), "SHA256:aaa")
	assert.Contains(t, err.Error(), "SHA256:bbb")
}

func TestKeychainError(t *testing.T) {
	err := error(&KeychainError{Op: "read", Detail: "item not found"})

	assert.True(t, errors.Is(err, ErrKeychainFailure))

	var keychain *KeychainError
	require.True(t, errors.As(err, &keychain))
	assert.Equal(t, "read", keychain.Op)
	assert.Contains(t, err.Error(), "item not found")
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "context"))

	wrapped := WrapError(ErrDirtyWorkingTree, "sync refused")
	assert.True(t, errors.Is(wrapped, ErrDirtyWorkingTree))
	assert.Contains(t, wrapped.Error(), "sync refused")

	formatted := WrapErrorf(ErrKeyNotFound, "host %q", "example.com")
	assert.True(t, errors.Is(formatted, ErrKeyNotFound))
	assert.Contains(t, formatted.Error(), `host "example.com"`)
}
