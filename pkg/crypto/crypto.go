// Package crypto encrypts secrets that live in configuration files, so
// instance passwords and SMTP credentials never sit on disk in the clear.
// Values are AES-256-GCM sealed and carried as "enc:<base64>".
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const encPrefix = "enc:"

var masterKey = []byte("queryportal-default-key-32-bytes")

// SetMasterKey replaces the default key. Keys are truncated or zero-padded
// to the 32 bytes AES-256 requires.
func SetMasterKey(key string) {
	if key == "" {
		return
	}
	if len(key) >= 32 {
		masterKey = []byte(key[:32])
		return
	}
	padded := make([]byte, 32)
	copy(padded, key)
	masterKey = padded
}

func Encrypt(text string) (string, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(text), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func Decrypt(cryptoText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(cryptoText, encPrefix))
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// IsEncrypted reports whether the value carries the encrypted marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// MaybeDecrypt decrypts marked values and passes plain values through.
func MaybeDecrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return Decrypt(value)
}
