// Package security decrypts inbound payloads and seals responses.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidInput is returned when a ciphertext is shorter than nonce+tag.
	ErrInvalidInput = errors.New("ciphertext too short")

	// ErrAuthenticationFailed is returned when the tag does not verify.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

const (
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Provider names.
const (
	None             = "none"
	AESGCM           = "aes-gcm"
	ChaCha20Poly1305 = "chacha20-poly1305"
)

// Provider encrypts and decrypts request payloads.
type Provider interface {
	Name() string
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Config selects a provider.
type Config struct {
	Provider string `yaml:"provider"`
	KeyFile  string `yaml:"key_file"`
}

// New builds the provider named in cfg, loading its key once.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case None, "":
		return Null{}, nil
	case AESGCM, ChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("unsupported security provider: %s", cfg.Provider)
	}

	key, err := LoadKeyFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	if cfg.Provider == AESGCM {
		return NewAESGCM(key)
	}
	return NewChaCha20Poly1305(key)
}

// Null passes payloads through unchanged.
type Null struct{}

func (Null) Name() string                               { return None }
func (Null) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (Null) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

// AEAD seals payloads as nonce || tag || ciphertext.
type AEAD struct {
	name string
	aead cipher.AEAD
}

// NewAESGCM returns an AES-256-GCM provider.
func NewAESGCM(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AEAD{name: AESGCM, aead: gcm}, nil
}

// NewChaCha20Poly1305 returns an IETF ChaCha20-Poly1305 provider.
func NewChaCha20Poly1305(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), KeySize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &AEAD{name: ChaCha20Poly1305, aead: aead}, nil
}

func (a *AEAD) Name() string { return a.name }

func (a *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, nonceSize+tagSize, nonceSize+tagSize+len(plaintext)+tagSize)
	if _, err := io.ReadFull(rand.Reader, out[:nonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := a.aead.Seal(out[nonceSize+tagSize:], out[:nonceSize], plaintext, nil)
	// Seal appends the tag; move it in front of the ciphertext.
	ctLen := len(sealed) - tagSize
	copy(out[nonceSize:nonceSize+tagSize], sealed[ctLen:])
	return out[:nonceSize+tagSize+ctLen], nil
}

func (a *AEAD) Decrypt(data []byte) ([]byte, error) {
	if len(data) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidInput, len(data))
	}
	nonce := data[:nonceSize]
	tag := data[nonceSize : nonceSize+tagSize]
	ct := data[nonceSize+tagSize:]

	buf := make([]byte, 0, len(ct)+tagSize)
	buf = append(buf, ct...)
	buf = append(buf, tag...)

	plaintext, err := a.aead.Open(buf[:0], nonce, buf, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// LoadKeyFile reads a 32-byte key stored as 64 hex characters.
func LoadKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("security: key_file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParseHexKey(string(data))
}

// ParseHexKey decodes a 64 character hex key.
func ParseHexKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return nil, fmt.Errorf("key must be %d bytes (%d hex chars), got %d chars", KeySize, 2*KeySize, len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random key encoded as hex.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
