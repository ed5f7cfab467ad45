// Package secure decrypts payloads the backend marks as encrypted. Tokens are
// Fernet tokens signed with the key the backend serves.
package secure

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

var (
	ErrInvalidKey   = errors.New("invalid encryption key")
	ErrInvalidToken = errors.New("invalid token")
)

// Key is a parsed backend encryption key.
type Key struct {
	k *fernet.Key
}

// ParseKey decodes a key as served by the backend.
func ParseKey(s string) (*Key, error) {
	k, err := fernet.DecodeKey(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Key{k: k}, nil
}

// GenerateKey returns a new random key in its encoded form.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", err
	}
	return k.Encode(), nil
}

// Encrypt produces a token for plaintext stamped with at.
func (k *Key) Encrypt(plaintext []byte, at time.Time) (string, error) {
	tok, err := fernet.EncryptAndSignAtTime(plaintext, k.k, at)
	if err != nil {
		return "", err
	}
	return string(tok), nil
}

// Decrypt verifies and opens token. A positive ttl rejects tokens older than
// ttl; zero disables the age check.
func (k *Key) Decrypt(token string, ttl time.Duration) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt([]byte(padToken(token)), ttl, []*fernet.Key{k.k})
	if msg == nil {
		return nil, ErrInvalidToken
	}
	return msg, nil
}

// padToken restores the base64 padding some encoders strip.
func padToken(s string) string {
	s = strings.TrimSpace(s)
	if r := len(s) % 4; r != 0 {
		s += strings.Repeat("=", 4-r)
	}
	return s
}
