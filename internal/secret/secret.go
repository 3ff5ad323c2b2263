// Package secret encrypts integration configuration at rest and scrubs secrets for display.
package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
)

const keySize = 32

// ErrDecrypt is returned for any envelope that cannot be decrypted with the given key.
var ErrDecrypt = errors.New("secret: cannot decrypt envelope")

// Envelope is the at-rest form of an encrypted value.
type Envelope struct {
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
}

// Encrypt seals plaintext with AES-256-CBC under a fresh random IV.
func Encrypt(key, plaintext []byte) (Envelope, error) {
	block, err := newCipher(key)
	if err != nil {
		return Envelope{}, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, errors.Wrap(err, "secret: generate iv")
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return Envelope{
		IV:            hex.EncodeToString(iv),
		EncryptedData: hex.EncodeToString(out),
	}, nil
}

// Decrypt opens an envelope. It never returns partial plaintext: any malformed input,
// wrong key or bad padding yields ErrDecrypt.
func Decrypt(key []byte, env Envelope) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errors.Wrap(ErrDecrypt, "invalid iv")
	}
	data, err := hex.DecodeString(env.EncryptedData)
	if err != nil {
		return nil, errors.Wrap(ErrDecrypt, "invalid ciphertext encoding")
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.Wrap(ErrDecrypt, "ciphertext is not a whole number of blocks")
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, ok := unpad(out, aes.BlockSize)
	if !ok {
		return nil, errors.Wrap(ErrDecrypt, "bad padding")
	}
	return plain, nil
}

// Scrub renders a secret for display. protectCount 0 shows the value in full; -1, or a value
// no longer than protectCount, is masked entirely; otherwise all but the last protectCount
// characters are masked. The result must never be fed back as a real value.
func Scrub(value string, protectCount int) string {
	if protectCount == 0 {
		return value
	}
	runes := []rune(value)
	if protectCount < 0 || len(runes) <= protectCount {
		return strings.Repeat("*", len(runes))
	}
	masked := len(runes) - protectCount
	return strings.Repeat("*", masked) + string(runes[masked:])
}

func newCipher(key []byte) (cipher.Block, error) {
	if len(key) != keySize {
		return nil, errors.Newf("secret: key must be %d bytes, got %d", keySize, len(key))
	}
	return aes.NewCipher(key)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
