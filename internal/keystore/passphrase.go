package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/mediavault/internal/common"
)

// argon2id parameters for the passphrase-derived sealing key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	sealKeySize  = 32
)

// PassphraseSealer seals secrets under an AES-256-GCM key derived from a user
// passphrase with argon2id. It stands in for the platform enclave on
// installations that do not have one; the salt is generated once per
// installation and persisted next to the sealed blobs.
type PassphraseSealer struct {
	aead cipher.AEAD
}

// NewPassphraseSealer derives the sealing key from passphrase and salt and
// returns a ready-to-use sealer. The same passphrase/salt pair always yields
// the same key, so previously sealed secrets stay recoverable.
func NewPassphraseSealer(passphrase, salt []byte) (*PassphraseSealer, error) {
	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, sealKeySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init sealing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init sealing AEAD: %w", err)
	}

	common.WipeByteArray(key)

	return &PassphraseSealer{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *PassphraseSealer) Seal(plaintext []byte) (SealedData, error) {
	iv := common.GenerateRandByteArray(s.aead.NonceSize())
	ciphertext := s.aead.Seal(nil, iv, plaintext, nil)
	return SealedData{IV: iv, Ciphertext: ciphertext}, nil
}

// Unseal decrypts data sealed by this sealer. It fails if the blob was
// tampered with or the passphrase-derived key does not match.
func (s *PassphraseSealer) Unseal(data SealedData) ([]byte, error) {
	plaintext, err := s.aead.Open(nil, data.IV, data.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorSecretUnsealFailed, err)
	}
	return plaintext, nil
}

var _ Sealer = (*PassphraseSealer)(nil)
