// Package cryptobox provides reversible encryption for sensitive fields at rest.
//
// The default mode derives both the AES-256 key and the CBC initialization
// vector from one master secret, so equal plaintexts always produce equal
// ciphertexts within a deployment. This only protects against casual
// disclosure of stored rows; it does not resist a chosen-plaintext adversary.
// The optional random-IV mode stores a fresh IV with every ciphertext.
package cryptobox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"securecms.org/internal/config"
)

// ErrDecryption is returned for malformed or undecryptable ciphertext.
var ErrDecryption = errors.New("cryptobox: decryption failed")

// randomIVPrefix marks ciphertexts produced in random-IV mode. Deterministic
// ciphertexts are plain base64 and never contain a colon.
const randomIVPrefix = "v2:"

// Box encrypts and decrypts strings with a key derived from the master secret.
type Box struct {
	block    cipher.Block
	iv       []byte
	randomIV bool
	rand     io.Reader
}

// New builds a Box from the encryption configuration. A missing master key
// yields config.ErrMissingSecret.
func New(cfg config.EncryptionConfig) (*Box, error) {
	if strings.TrimSpace(cfg.MasterKey) == "" {
		return nil, fmt.Errorf("%w: encryption master key", config.ErrMissingSecret)
	}
	sum := sha256.Sum256([]byte(cfg.MasterKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, sum[:aes.BlockSize])
	return &Box{block: block, iv: iv, randomIV: cfg.RandomIV, rand: rand.Reader}, nil
}

// Encrypt returns base64 ciphertext for plaintext. The empty string encrypts
// to the empty string.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	padded := pad([]byte(plaintext), aes.BlockSize)
	if !b.randomIV {
		out := make([]byte, len(padded))
		cipher.NewCBCEncrypter(b.block, b.iv).CryptBlocks(out, padded)
		return base64.StdEncoding.EncodeToString(out), nil
	}

	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(b.rand, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	cipher.NewCBCEncrypter(b.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return randomIVPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Ciphertexts from either mode are accepted so the
// random-IV flag can be turned on without rewriting existing rows.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	iv := b.iv
	encoded := ciphertext
	random := strings.HasPrefix(ciphertext, randomIVPrefix)
	if random {
		encoded = strings.TrimPrefix(ciphertext, randomIVPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrDecryption)
	}
	if random {
		if len(raw) < 2*aes.BlockSize {
			return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
		}
		iv, raw = raw[:aes.BlockSize], raw[aes.BlockSize:]
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: length %d is not a multiple of the block size", ErrDecryption, len(raw))
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(b.block, iv).CryptBlocks(out, raw)
	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrDecryption)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
	}
	for _, v := range data[len(data)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecryption)
		}
	}
	return data[:len(data)-n], nil
}
