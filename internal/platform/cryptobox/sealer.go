package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIterations matches the PBKDF2 work factor used by existing sealed carts.
	DefaultIterations = 250000
	// DefaultPepper prefixes every scope before key derivation.
	DefaultPepper = "ojawa"
	// DefaultKeyCacheSize bounds how many derived scope keys are kept in memory.
	DefaultKeyCacheSize = 4096

	keyLength = 32
	ivLength  = 12
)

var (
	// ErrMalformedPayload is returned when a payload is not in "iv:ciphertext" form.
	ErrMalformedPayload = errors.New("cryptobox: malformed payload")
	// ErrDecrypt is returned when authentication fails, usually because the scope or secret differ.
	ErrDecrypt = errors.New("cryptobox: decrypt failed")
)

// Config describes key derivation inputs. Salt and Pepper are treated as secrets.
type Config struct {
	Pepper     string
	Salt       []byte
	Iterations int
}

// Sealer encrypts cart payloads with AES-256-GCM under a key derived per identity scope.
type Sealer struct {
	pepper     string
	salt       []byte
	iterations int
	random     io.Reader
	cacheSize  int

	keys   *lru.Cache[string, cipher.AEAD]
	derive singleflight.Group
}

// Option customises a Sealer.
type Option func(*Sealer)

// WithRandom overrides the IV source, primarily for tests.
func WithRandom(r io.Reader) Option {
	return func(s *Sealer) {
		if r != nil {
			s.random = r
		}
	}
}

// WithKeyCacheSize caps the number of derived keys held at once. Evicted scopes are derived again on next use.
func WithKeyCacheSize(size int) Option {
	return func(s *Sealer) {
		if size > 0 {
			s.cacheSize = size
		}
	}
}

// New validates cfg and returns a Sealer.
func New(cfg Config, opts ...Option) (*Sealer, error) {
	if len(cfg.Salt) < 8 {
		return nil, errors.New("cryptobox: salt must be at least 8 bytes")
	}
	pepper := strings.TrimSpace(cfg.Pepper)
	if pepper == "" {
		pepper = DefaultPepper
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	s := &Sealer{
		pepper:     pepper,
		salt:       append([]byte(nil), cfg.Salt...),
		iterations: iterations,
		random:     rand.Reader,
		cacheSize:  DefaultKeyCacheSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	keys, err := lru.New[string, cipher.AEAD](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: key cache: %w", err)
	}
	s.keys = keys
	return s, nil
}

// Seal encrypts plaintext for scope and returns base64(iv) + ":" + base64(ciphertext).
func (s *Sealer) Seal(scope string, plaintext []byte) (string, error) {
	aead, err := s.aead(scope)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(s.random, iv); err != nil {
		return "", fmt.Errorf("cryptobox: generate iv: %w", err)
	}
	ciphertext := aead.Seal(nil, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Payloads sealed under another scope fail with ErrDecrypt.
func (s *Sealer) Open(scope string, payload string) ([]byte, error) {
	ivPart, dataPart, ok := strings.Cut(strings.TrimSpace(payload), ":")
	if !ok || ivPart == "" || dataPart == "" {
		return nil, ErrMalformedPayload
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != ivLength {
		return nil, ErrMalformedPayload
	}
	data, err := base64.StdEncoding.DecodeString(dataPart)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	aead, err := s.aead(scope)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, data, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (s *Sealer) aead(scope string) (cipher.AEAD, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("cryptobox: scope is required")
	}

	if aead, ok := s.keys.Get(scope); ok {
		return aead, nil
	}
	// Derivation is slow; callers for other scopes never wait on it and callers for the same scope share it.
	derived, err, _ := s.derive.Do(scope, func() (interface{}, error) {
		if aead, ok := s.keys.Get(scope); ok {
			return aead, nil
		}
		key := pbkdf2.Key([]byte(s.pepper+":"+scope), s.salt, s.iterations, keyLength, sha256.New)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("cryptobox: init cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("cryptobox: init gcm: %w", err)
		}
		s.keys.Add(scope, aead)
		return aead, nil
	})
	if err != nil {
		return nil, err
	}
	return derived.(cipher.AEAD), nil
}

// Forget drops the cached key for scope.
func (s *Sealer) Forget(scope string) {
	s.keys.Remove(strings.TrimSpace(scope))
}
