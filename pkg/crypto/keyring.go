// Package crypto seals configuration secrets with AES-256-GCM so API keys
// can sit in env files as ENC[vN]:base64 values.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	sealedPrefix = "ENC[v"
	maxVersions  = 10
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid sealed value")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrNoKey             = errors.New("sealed value found but no decryption key is configured")
)

// Keyring holds one AEAD per key version. New values are sealed with the
// highest version; older versions stay readable for rotation.
type Keyring struct {
	current int
	aeads   map[int]cipher.AEAD
}

// NewKeyring builds a keyring from raw keys indexed by version (>= 1).
func NewKeyring(keys map[int][]byte) (*Keyring, error) {
	k := &Keyring{aeads: make(map[int]cipher.AEAD, len(keys))}
	for v, key := range keys {
		if v < 1 {
			return nil, fmt.Errorf("key version %d: versions start at 1", v)
		}
		if len(key) != KeySize {
			return nil, ErrInvalidKey
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM: %w", err)
		}
		k.aeads[v] = gcm
		k.current = max(k.current, v)
	}
	if len(k.aeads) == 0 {
		return nil, ErrNoKey
	}
	return k, nil
}

// KeyringFromEnv loads base64 keys from NAME (version 1) and NAME_V2..NAME_V10.
// It returns a nil keyring and no error when none are set.
func KeyringFromEnv(name string) (*Keyring, error) {
	keys := make(map[int][]byte)
	for v := 1; v <= maxVersions; v++ {
		env := name
		if v > 1 {
			env = fmt.Sprintf("%s_V%d", name, v)
		}
		raw := os.Getenv(env)
		if raw == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", env, err)
		}
		keys[v] = key
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return NewKeyring(keys)
}

// IsSealed reports whether s looks like a sealed value.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix)
}

// Seal encrypts plaintext with the current key version.
func (k *Keyring) Seal(plaintext string) (string, error) {
	if k == nil {
		return "", ErrNoKey
	}
	gcm := k.aeads[k.current]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	data := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", sealedPrefix, k.current, base64.StdEncoding.EncodeToString(data)), nil
}

// Open returns the plaintext of a sealed value. Values that are not sealed
// pass through unchanged, so plain and sealed settings can be mixed.
func (k *Keyring) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if k == nil {
		return "", ErrNoKey
	}
	version, payload, err := split(value)
	if err != nil {
		return "", err
	}
	gcm, ok := k.aeads[version]
	if !ok {
		return "", fmt.Errorf("key version %d not configured", version)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// GenerateKey returns a fresh base64 key suitable for KeyringFromEnv.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func split(value string) (int, string, error) {
	end := strings.Index(value, "]:")
	if end < 0 {
		return 0, "", ErrInvalidCiphertext
	}
	var version int
	if _, err := fmt.Sscanf(value[len(sealedPrefix):end], "%d", &version); err != nil || version < 1 {
		return 0, "", ErrInvalidCiphertext
	}
	return version, value[end+2:], nil
}
