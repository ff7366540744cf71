// Package crypto resolves the wallet's signing key, from a raw hex value or a
// password-encrypted file, and signs transactions with it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	keyFileVersion   = 1
)

// ErrBadPassword is returned when a key file does not open with the given
// password.
var ErrBadPassword = errors.New("crypto: key file password rejected")

// keyFile is the on-disk wallet key. Binary fields are base64 standard
// encoding.
type keyFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names the wallet key sources. A raw key wins over a key file.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// LoadKey resolves the wallet key and returns it as hex without a 0x prefix.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case strings.TrimSpace(cfg.RawPrivateKey) != "":
		key, err := parseKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", fmt.Errorf("crypto: raw key: %w", err)
		}
		return hex.EncodeToString(key), nil
	case cfg.EncryptedKeyPath != "":
		blob, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: key file: %w", err)
		}
		key, err := unseal(blob, cfg.KeyPassword)
		if err != nil {
			return "", fmt.Errorf("crypto: key file %s: %w", cfg.EncryptedKeyPath, err)
		}
		return hex.EncodeToString(key), nil
	}
	return "", errors.New("crypto: no wallet key configured")
}

// WriteEncryptedKey seals privateKeyHex under password and writes it to path
// with owner-only permissions. An existing file is never replaced.
func WriteEncryptedKey(path, privateKeyHex, password string) error {
	key, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	blob, err := seal(key, password)
	if err != nil {
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return fmt.Errorf("crypto: write key file: %w", err)
	}
	return f.Close()
}

func parseKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("not hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(key))
	}
	return key, nil
}

// keyCipher derives the AES-256-GCM cipher for password and salt.
func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("empty password")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(key []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Salt:       enc(salt),
		Nonce:      enc(nonce),
		Ciphertext: enc(aead.Seal(nil, nonce, key, nil)),
	}, "", "  ")
}

func unseal(blob []byte, password string) ([]byte, error) {
	var kf keyFile
	if err := json.Unmarshal(blob, &kf); err != nil {
		return nil, fmt.Errorf("malformed: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("unsupported version %d", kf.Version)
	}

	var fields [3][]byte
	for i, s := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("malformed: %w", err)
		}
		fields[i] = b
	}
	salt, nonce, ciphertext := fields[0], fields[1], fields[2]

	aead, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errors.New("malformed: nonce size")
	}
	key, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrBadPassword
	}
	return key, nil
}
