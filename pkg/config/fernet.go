package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

// EncryptedPrefix marks a config value holding a fernet token instead of
// plain text.
const EncryptedPrefix = "fernet:"

// GenerateKey returns a new base64 fernet key for SSHGATE_SECRET_KEY.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return k.Encode(), nil
}

// EncryptSecret seals plaintext with key and returns the prefixed token to
// paste into the config file.
func EncryptSecret(plaintext string, key Secret) (string, error) {
	k, err := fernet.DecodeKey(key.Reveal())
	if err != nil {
		return "", fmt.Errorf("decode secret key: %w", err)
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), k)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return EncryptedPrefix + string(tok), nil
}

// DecryptSecret returns value unchanged unless it carries EncryptedPrefix,
// in which case it is opened with key. Tokens never expire.
func DecryptSecret(value, key Secret) (Secret, error) {
	raw := value.Reveal()
	if !strings.HasPrefix(raw, EncryptedPrefix) {
		return value, nil
	}
	if key.Empty() {
		return "", errors.New("remote.password is encrypted but SSHGATE_SECRET_KEY is not set")
	}
	k, err := fernet.DecodeKey(key.Reveal())
	if err != nil {
		return "", fmt.Errorf("decode secret key: %w", err)
	}
	msg := fernet.VerifyAndDecrypt([]byte(strings.TrimPrefix(raw, EncryptedPrefix)), 0*time.Second, []*fernet.Key{k})
	if msg == nil {
		return "", errors.New("decrypt remote.password: invalid token or key")
	}
	return Secret(msg), nil
}
