package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B, SHA1 seed "12345678901234567890", truncated to 6 digits.
func TestCodeMatchesRFCVectors(t *testing.T) {
	secret := b32.EncodeToString([]byte("12345678901234567890"))
	vectors := map[int64]string{
		59:         "287082",
		1111111109: "081804",
		1111111111: "050471",
		1234567890: "005924",
		2000000000: "279037",
	}
	for ts, want := range vectors {
		got, err := Code(secret, time.Unix(ts, 0))
		require.NoError(t, err)
		assert.Equal(t, want, got, "t=%d", ts)
	}
}

func TestVerifyWindow(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	prev, err := Code(secret, now.Add(-Period*time.Second))
	require.NoError(t, err)
	next, err := Code(secret, now.Add(Period*time.Second))
	require.NoError(t, err)
	far, err := Code(secret, now.Add(3*Period*time.Second))
	require.NoError(t, err)

	assert.True(t, Verify(secret, prev, now, 1))
	assert.True(t, Verify(secret, next, now, 1))
	if far != prev && far != next {
		cur, _ := Code(secret, now)
		if far != cur {
			assert.False(t, Verify(secret, far, now, 1))
		}
	}
	assert.False(t, Verify(secret, "12345", now, 1))
	assert.False(t, Verify(secret, "abcdef", now, 1))
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("netcrew", "a@x.com", "JBSWY3DPEHPK3PXP")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/netcrew:a@x.com?"))
	assert.Contains(t, uri, "secret=JBSWY3DPEHPK3PXP")
	assert.Contains(t, uri, "digits=6")
}

func TestMatchReportsStep(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	step := now.Unix() / Period

	next, err := Code(secret, now.Add(Period*time.Second))
	require.NoError(t, err)
	got, ok := Match(secret, next, now, 1)
	require.True(t, ok)
	assert.Equal(t, step+1, got)

	_, ok = Match(secret, "abcdef", now, 1)
	assert.False(t, ok)
}
