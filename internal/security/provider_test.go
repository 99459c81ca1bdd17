package security

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	hexKey, err := GenerateKey()
	require.NoError(t, err)
	key, err := ParseHexKey(hexKey)
	require.NoError(t, err)
	return key
}

func allProviders(t *testing.T) []Provider {
	t.Helper()
	key := testKey(t)
	gcm, err := NewAESGCM(key)
	require.NoError(t, err)
	chacha, err := NewChaCha20Poly1305(key)
	require.NoError(t, err)
	return []Provider{Null{}, gcm, chacha}
}

func TestRoundTrip(t *testing.T) {
	messages := [][]byte{
		[]byte(`{"operation":"CheckAvailable","runtime":"Docker","accessMode":"CLI"}`),
		{},
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	for _, p := range allProviders(t) {
		for _, m := range messages {
			sealed, err := p.Encrypt(m)
			require.NoError(t, err, p.Name())
			opened, err := p.Decrypt(sealed)
			require.NoError(t, err, p.Name())
			assert.Equal(t, len(m), len(opened), p.Name())
			assert.True(t, bytes.Equal(m, opened), p.Name())
		}
	}
}

func TestLayout(t *testing.T) {
	key := testKey(t)
	p, err := NewAESGCM(key)
	require.NoError(t, err)

	sealed, err := p.Encrypt([]byte("hello"))
	require.NoError(t, err)
	assert.Len(t, sealed, nonceSize+tagSize+5)
}

func TestTamperedTagFails(t *testing.T) {
	for _, p := range allProviders(t)[1:] {
		sealed, err := p.Encrypt([]byte("start web1"))
		require.NoError(t, err)

		tampered := append([]byte{}, sealed...)
		tampered[nonceSize] ^= 0x01 // first tag byte

		_, err = p.Decrypt(tampered)
		assert.ErrorIs(t, err, ErrAuthenticationFailed, p.Name())
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	for _, p := range allProviders(t)[1:] {
		sealed, err := p.Encrypt([]byte("remove web1"))
		require.NoError(t, err)
		sealed[len(sealed)-1] ^= 0x80

		_, err = p.Decrypt(sealed)
		assert.ErrorIs(t, err, ErrAuthenticationFailed, p.Name())
	}
}

func TestShortInput(t *testing.T) {
	for _, p := range allProviders(t)[1:] {
		_, err := p.Decrypt(make([]byte, nonceSize+tagSize-1))
		assert.ErrorIs(t, err, ErrInvalidInput, p.Name())
	}
}

func TestWrongKeyFails(t *testing.T) {
	a, err := NewChaCha20Poly1305(testKey(t))
	require.NoError(t, err)
	b, err := NewChaCha20Poly1305(testKey(t))
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)
	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestNewFromConfig(t *testing.T) {
	hexKey, err := GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.hex")
	require.NoError(t, os.WriteFile(path, []byte(hexKey+"\n"), 0o600))

	p, err := New(Config{Provider: AESGCM, KeyFile: path})
	require.NoError(t, err)
	assert.Equal(t, AESGCM, p.Name())

	p, err = New(Config{Provider: ChaCha20Poly1305, KeyFile: path})
	require.NoError(t, err)
	assert.Equal(t, ChaCha20Poly1305, p.Name())

	p, err = New(Config{})
	require.NoError(t, err)
	assert.Equal(t, None, p.Name())

	_, err = New(Config{Provider: "rot13"})
	assert.Error(t, err)

	_, err = New(Config{Provider: AESGCM})
	assert.Error(t, err, "missing key file")
}

func TestParseHexKey(t *testing.T) {
	_, err := ParseHexKey("abcd")
	assert.Error(t, err)

	_, err = ParseHexKey(string(bytes.Repeat([]byte("zz"), KeySize)))
	assert.Error(t, err)

	key, err := ParseHexKey("  " + string(bytes.Repeat([]byte("0f"), KeySize)) + "\n")
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}
