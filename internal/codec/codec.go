// Package codec encrypts message text at the storage boundary.
//
// Stored form is "ivHex:cipherHex": AES-256-CBC with PKCS#7 padding and a
// fresh 16-byte IV per call. The key is SHA-256 of a configured secret.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// DecryptionSentinel is returned by Decrypt in place of unreadable text so
// message lists stay renderable.
const DecryptionSentinel = "Decryption error"

var errBadPadding = errors.New("codec: bad padding")

type Codec struct {
	block cipher.Block
	rand  io.Reader
}

// New derives the AES-256 key from secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("codec: empty secret")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return &Codec{block: block, rand: rand.Reader}, nil
}

// Encrypt returns "ivHex:cipherHex". Empty input stays empty so optional
// text columns remain blank.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt never fails: anything malformed yields DecryptionSentinel.
func (c *Codec) Decrypt(token string) string {
	if token == "" {
		return ""
	}
	pt, err := c.open(token)
	if err != nil {
		return DecryptionSentinel
	}
	return pt
}

func (c *Codec) open(token string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(token, ":")
	if !ok {
		return "", errors.New("codec: missing separator")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", err
	}
	if len(iv) != aes.BlockSize {
		return "", errors.New("codec: bad iv length")
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", err
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", errors.New("codec: bad ciphertext length")
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, ct)
	out, err = pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errBadPadding
		}
	}
	return b[:len(b)-n], nil
}
