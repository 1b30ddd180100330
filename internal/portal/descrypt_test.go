package portal

import (
	"crypto/des"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

// decryptPassword reverses EncryptPassword for the tests only.
func decryptPassword(t *testing.T, encoded, key string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	keyBytes := make([]byte, 8)
	copy(keyBytes, key)
	block, err := des.NewCipher(keyBytes)
	require.NoError(t, err)
	require.Zero(t, len(raw)%block.BlockSize())

	plain := make([]byte, len(raw))
	for i := 0; i < len(raw); i += block.BlockSize() {
		block.Decrypt(plain[i:], raw[i:])
	}
	pad := int(plain[len(plain)-1])
	require.Greater(t, pad, 0)
	require.LessOrEqual(t, pad, block.BlockSize())
	return string(plain[:len(plain)-pad])
}

func TestEncryptPasswordRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		password string
		key      string
	}{
		{"short", "abc", "LT-1234567890"},
		{"block aligned", "12345678", "LT-20240901-0001"},
		{"long", "correct horse battery staple", "LT-x"},
		{"unicode", "密码pass", "LT-abcdef"},
		{"short key", "secret", "k"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := EncryptPassword(tc.password, tc.key)
			require.NoError(t, err)
			require.NotEqual(t, tc.password, enc)
			require.Equal(t, tc.password, decryptPassword(t, enc, tc.key))
		})
	}
}

func TestEncryptPasswordDeterministicPerKey(t *testing.T) {
	a, err := EncryptPassword("hunter2", "LT-1")
	require.NoError(t, err)
	b, err := EncryptPassword("hunter2", "LT-1")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := EncryptPassword("hunter2", "LT-2")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
