package portal

import (
	"crypto/des"
	"encoding/base64"
	"fmt"
)

// EncryptPassword encrypts the portal password the way the login page's
// JavaScript does: DES/ECB with PKCS7 padding, keyed by the page's `lt`
// token, base64-encoded. The identity provider decrypts it server side, so
// the exact byte layout is part of the wire contract.
func EncryptPassword(password, key string) (string, error) {
	keyBytes := make([]byte, 8)
	copy(keyBytes, []byte(key))

	block, err := des.NewCipher(keyBytes)
	if err != nil {
		return "", fmt.Errorf("des cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(password), block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], padded[i:i+block.BlockSize()])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}
