package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/layer-3/onerecurr/ports"
	"golang.org/x/crypto/scrypt"
)

const (
	sealSaltSize = 16
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	sealKeySize  = 32
)

var errSealedTooShort = errors.New("sealed value too short")

// PassphraseSealer encrypts values with AES-256-GCM under an scrypt-derived key.
// Output is base64(salt || nonce || ciphertext).
type PassphraseSealer struct {
	passphrase []byte
}

// NewPassphraseSealer derives keys from passphrase.
func NewPassphraseSealer(passphrase string) *PassphraseSealer {
	return &PassphraseSealer{passphrase: []byte(passphrase)}
}

var _ ports.Sealer = (*PassphraseSealer)(nil)

func (p *PassphraseSealer) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := p.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (p *PassphraseSealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed value: %w", err)
	}
	if len(raw) < sealSaltSize {
		return nil, errSealedTooShort
	}
	gcm, err := p.aead(raw[:sealSaltSize])
	if err != nil {
		return nil, err
	}
	rest := raw[sealSaltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, errSealedTooShort
	}
	plaintext, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (p *PassphraseSealer) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(p.passphrase, salt, scryptN, scryptR, scryptP, sealKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
