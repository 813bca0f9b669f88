package secretbox

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeyOrder(t *testing.T) {
	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte(i)
	}

	fromHex, err := NormalizeKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, fromHex)

	fromB64, err := NormalizeKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, fromB64)

	phrase := "correct horse battery staple"
	hashed, err := NormalizeKey(phrase)
	require.NoError(t, err)
	sum := sha256.Sum256([]byte(phrase))
	assert.Equal(t, sum[:], hashed)

	// 64 characters that are not hex fall through to hashing.
	notHex := strings.Repeat("z", 64)
	got, err := NormalizeKey(notHex)
	require.NoError(t, err)
	sum = sha256.Sum256([]byte(notHex))
	assert.Equal(t, sum[:], got)

	_, err = NormalizeKey("   ")
	assert.Error(t, err)
}

func TestRoundTripAllKeyForms(t *testing.T) {
	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte(255 - i)
	}
	keys := []string{
		hex.EncodeToString(raw),
		base64.StdEncoding.EncodeToString(raw),
		"an operator passphrase of unknown encoding",
	}
	secrets := []string{"JBSWY3DPEHPK3PXP", "", strings.Repeat("A", 512)}

	for _, k := range keys {
		box, err := New(k)
		require.NoError(t, err)
		for _, s := range secrets {
			enc, err := box.Encrypt(s)
			require.NoError(t, err)
			assert.Len(t, strings.Split(enc, ":"), 3)
			dec, err := box.Decrypt(enc)
			require.NoError(t, err)
			assert.Equal(t, s, dec)
		}
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	box, err := New("k")
	require.NoError(t, err)
	a, err := box.Encrypt("same")
	require.NoError(t, err)
	b, err := box.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTampering(t *testing.T) {
	box, err := New("k")
	require.NoError(t, err)
	enc, err := box.Encrypt("secret")
	require.NoError(t, err)

	parts := strings.Split(enc, ":")
	tag := []byte(parts[1])
	if tag[0] == '0' {
		tag[0] = '1'
	} else {
		tag[0] = '0'
	}
	_, err = box.Decrypt(parts[0] + ":" + string(tag) + ":" + parts[2])
	assert.Error(t, err)

	_, err = box.Decrypt("not-a-box")
	assert.ErrorIs(t, err, ErrMalformed)

	other, err := New("other")
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.Error(t, err)
}
