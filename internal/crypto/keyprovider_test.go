package crypto

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLockedKeyProviderRejectsBadLengths(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 8, 15, 17, 33} {
		_, err := NewLockedKeyProvider(make([]byte, n))
		require.ErrorIs(t, err, ErrInvalidKey, "length %d", n)
	}
}

func TestKeyProviderFromBase64(t *testing.T) {
	t.Parallel()

	raw := testKey(0x01, 32)
	keys, err := KeyProviderFromBase64(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	defer keys.Destroy()

	err = keys.WithKey(func(key []byte) error {
		assert.Equal(t, testKey(0x01, 32), key)
		return nil
	})
	require.NoError(t, err)

	_, err = KeyProviderFromBase64("***")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyProviderFromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "raw.key")
	require.NoError(t, os.WriteFile(rawPath, testKey(0x02, 16), 0o600))
	keys, err := KeyProviderFromFile(rawPath)
	require.NoError(t, err)
	defer keys.Destroy()

	b64Path := filepath.Join(dir, "b64.key")
	encoded := base64.StdEncoding.EncodeToString(testKey(0x02, 16)) + "\n"
	require.NoError(t, os.WriteFile(b64Path, []byte(encoded), 0o600))
	keys2, err := KeyProviderFromFile(b64Path)
	require.NoError(t, err)
	defer keys2.Destroy()

	fp1, err := KeyFingerprint(keys)
	require.NoError(t, err)
	fp2, err := KeyFingerprint(keys2)
	require.NoError(t, err)
	assert.True(t, FingerprintsEqual(fp1, fp2))

	_, err = KeyProviderFromFile(filepath.Join(dir, "missing.key"))
	require.Error(t, err)
}

func TestDestroyedProviderFails(t *testing.T) {
	t.Parallel()

	keys, err := NewLockedKeyProvider(testKey(0x03, 16))
	require.NoError(t, err)
	keys.Destroy()

	err = keys.WithKey(func([]byte) error { return nil })
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewCodec(keys).EncryptField("x", NewIV())
	require.ErrorIs(t, err, ErrCryptoFailure)
}

func TestKeyFingerprintDistinguishesKeys(t *testing.T) {
	t.Parallel()

	a, err := NewLockedKeyProvider(testKey(0x04, 24))
	require.NoError(t, err)
	defer a.Destroy()
	b, err := NewLockedKeyProvider(testKey(0x05, 24))
	require.NoError(t, err)
	defer b.Destroy()

	fa, err := KeyFingerprint(a)
	require.NoError(t, err)
	fb, err := KeyFingerprint(b)
	require.NoError(t, err)

	assert.Len(t, fa, 32)
	assert.False(t, FingerprintsEqual(fa, fb))

	again, err := KeyFingerprint(a)
	require.NoError(t, err)
	assert.True(t, FingerprintsEqual(fa, again))
}
