// Package crypto encrypts model credentials at rest.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// blobVersion is the first byte of every ciphertext and is authenticated as
// additional data, so a changed version byte fails to decrypt.
const blobVersion byte = 0x01

const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var (
	hkdfSalt = []byte("kitsune.credential.salt")
	hkdfInfo = []byte("kitsune.credential.enc.v1")
)

var ErrDecrypt = goerr.New("failed to decrypt credential").ID("ERR_DECRYPT")

// Codec encrypts with XChaCha20-Poly1305 under a key derived from a static
// secret by HKDF-SHA256. Ciphertexts are base64url text:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
type Codec struct {
	aead cipher.AEAD
}

// New derives the encryption key from secret. The same secret always yields
// the same key, so ciphertexts survive restarts.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, goerr.New("encryption secret is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo), key); err != nil {
		return nil, goerr.Wrap(err, "failed to derive encryption key")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create cipher")
	}
	return &Codec{aead: aead}, nil
}

// Encrypt uses a random nonce, so equal plaintexts give different ciphertexts
func (x *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", goerr.Wrap(err, "failed to generate nonce")
	}

	// dst must not overlap additional data
	ad := []byte{blobVersion}
	blob := make([]byte, 0, blobOverhead+len(plaintext))
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	blob = x.aead.Seal(blob, nonce, []byte(plaintext), ad)
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

func (x *Codec) Decrypt(ciphertext string) (string, error) {
	blob, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", goerr.Wrap(ErrDecrypt, "ciphertext is not base64url", goerr.V("cause", err.Error()))
	}
	if len(blob) < blobOverhead {
		return "", goerr.Wrap(ErrDecrypt, "ciphertext is too short", goerr.V("length", len(blob)))
	}
	if blob[0] != blobVersion {
		return "", goerr.Wrap(ErrDecrypt, "unsupported ciphertext version", goerr.V("version", blob[0]))
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := x.aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return "", goerr.Wrap(ErrDecrypt, "authentication failed")
	}
	return string(plaintext), nil
}

// Mask returns a display form that keeps only a short prefix and suffix.
// Lengths count runes.
func Mask(s string) string {
	r := []rune(s)
	switch {
	case len(r) == 0:
		return ""
	case len(r) <= 4:
		return "...."
	case len(r) <= 8:
		return string(r[:2]) + "...." + string(r[len(r)-2:])
	default:
		return string(r[:4]) + "...." + string(r[len(r)-4:])
	}
}
