// Package shield turns URLs and other short strings into self-describing
// encrypted tokens that can be embedded in proxy markup and reversed only with
// the issuing session key.
package shield

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Prefix marks a string as a shield token.
	Prefix = "SX"

	// KeySize is the length of a session master key.
	KeySize = 32

	saltSize   = 16
	ivSize     = aes.BlockSize
	digestSize = 8
	headerSize = saltSize + ivSize + digestSize

	kdfIterations = 100000
	derivedSize   = 32
)

// alphabet keeps the positional mapping of standard base64 with different symbols.
const alphabet = "ZYXWVUTSRQPONMLKJIHGFEDCBAzyxwvutsrqponmlkjihgfedcba9876543210-_"

var encoding = base64.NewEncoding(alphabet).Strict()

var (
	// ErrNotShielded is returned for input without the token prefix.
	ErrNotShielded = errors.New("shield: not a shielded token")
	// ErrMalformed is returned when a token does not decode or decrypt.
	ErrMalformed = errors.New("shield: malformed token")
	// ErrIntegrity is returned when the decrypted text does not match the token digest.
	ErrIntegrity = errors.New("shield: integrity check failed")
	// ErrEmptyKey is returned when a codec has no master key.
	ErrEmptyKey = errors.New("shield: empty key")
)

// Codec binds a master key to a random source. The key is copied and never
// mutated, so one Codec can serve concurrent callers.
type Codec struct {
	key  []byte
	rand io.Reader
}

// NewCodec returns a codec for key reading randomness from crypto/rand.
func NewCodec(key []byte) *Codec {
	return &Codec{key: bytes.Clone(key), rand: rand.Reader}
}

// WithRand returns a copy of c that draws salts and IVs from r.
func (c *Codec) WithRand(r io.Reader) *Codec {
	return &Codec{key: c.key, rand: r}
}

// NewKey returns a fresh random master key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("shield: generate key: %w", err)
	}
	return key, nil
}

// IsShielded reports whether s carries the token prefix. The payload is not validated.
func IsShielded(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// Shield encrypts plaintext under key with fresh randomness.
func Shield(plaintext string, key []byte) (string, error) {
	return NewCodec(key).Shield(plaintext)
}

// Unshield reverses Shield. It fails closed on any defect in the token.
func Unshield(token string, key []byte) (string, error) {
	return NewCodec(key).Unshield(token)
}

// Shield encrypts plaintext into a token.
func (c *Codec) Shield(plaintext string) (string, error) {
	if len(c.key) == 0 {
		return "", ErrEmptyKey
	}
	msg := []byte(plaintext)
	sum := sha256.Sum256(msg)
	digest := sum[:digestSize]

	buf := make([]byte, headerSize, headerSize+len(msg)+aes.BlockSize)
	if _, err := io.ReadFull(c.rand, buf[:saltSize+ivSize]); err != nil {
		return "", fmt.Errorf("shield: read random: %w", err)
	}
	salt := buf[:saltSize]
	iv := buf[saltSize : saltSize+ivSize]
	copy(buf[saltSize+ivSize:], digest)

	block, err := aes.NewCipher(c.derive(salt, digest))
	if err != nil {
		return "", fmt.Errorf("shield: cipher: %w", err)
	}
	padded := pad(msg)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	buf = append(buf, out...)

	return Prefix + encoding.EncodeToString(buf), nil
}

// Unshield decrypts token and verifies its embedded digest.
func (c *Codec) Unshield(token string) (string, error) {
	if !IsShielded(token) {
		return "", ErrNotShielded
	}
	if len(c.key) == 0 {
		return "", ErrEmptyKey
	}
	raw, err := encoding.DecodeString(token[len(Prefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	body := len(raw) - headerSize
	if body < aes.BlockSize || body%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: payload length %d", ErrMalformed, len(raw))
	}
	salt := raw[:saltSize]
	iv := raw[saltSize : saltSize+ivSize]
	digest := raw[saltSize+ivSize : headerSize]

	block, err := aes.NewCipher(c.derive(salt, digest))
	if err != nil {
		return "", fmt.Errorf("shield: cipher: %w", err)
	}
	plain := make([]byte, body)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, raw[headerSize:])

	// A wrong key surfaces as bad padding most of the time and as a digest
	// mismatch otherwise; both mean the token is not ours.
	msg, ok := unpad(plain)
	if !ok || !utf8.Valid(msg) {
		return "", ErrIntegrity
	}
	sum := sha256.Sum256(msg)
	if subtle.ConstantTimeCompare(sum[:digestSize], digest) != 1 {
		return "", ErrIntegrity
	}
	return string(msg), nil
}

func (c *Codec) derive(salt, digest []byte) []byte {
	secret := make([]byte, 0, len(c.key)+len(digest))
	secret = append(secret, c.key...)
	secret = append(secret, digest...)
	return pbkdf2.Key(secret, salt, kdfIterations, derivedSize, sha256.New)
}

// pad always adds between 1 and 16 bytes, a full block when already aligned.
func pad(msg []byte) []byte {
	n := aes.BlockSize - len(msg)%aes.BlockSize
	out := make([]byte, len(msg)+n)
	copy(out, msg)
	for i := len(msg); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
