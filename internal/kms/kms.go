// Package kms defines the boundary between this module and the
// out-of-core key-management service that holds plaintext-decrypting
// keys. Decrypter is the contract the indexer's ingestion pipeline is
// built against; DemoKMS is a local, in-process double used by tests and
// small deployments, never a production KMS implementation.
package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	xchacha "golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"piiindex/internal/apperr"
)

// Decrypter is implemented by anything that can turn a stored ciphertext
// back into the plaintext field value the indexer fingerprints. A real
// deployment calls out to a network KMS; DemoKMS below holds the key
// in-process instead.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

const (
	envelopeSaltSize = 32
	envelopeIVSize   = aes.BlockSize
	envelopeMacSize  = sha256.Size
	envelopeMinSize  = envelopeSaltSize + envelopeIVSize + envelopeMacSize
)

var (
	errCiphertextTooShort = errors.New("kms: ciphertext too short")
	errInvalidMAC         = errors.New("kms: message authentication failed")
)

// Seal applies encrypt-then-MAC using AES-CTR for confidentiality and
// HMAC-SHA256 for integrity, with per-message subkeys derived from
// masterKey via HKDF-SHA256 under a random salt embedded in the output.
// Layout: salt || iv || ciphertext || mac.
func Seal(masterKey, plaintext, aad []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("kms: empty master key")
	}
	salt := make([]byte, envelopeSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	encKey, macKey, err := deriveEnvelopeKeys(masterKey, salt)
	if err != nil {
		return nil, err
	}
	defer zero(encKey)
	defer zero(macKey)
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, envelopeIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	ct := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ct, plaintext)
	tag := computeMAC(macKey, aad, iv, ct)

	out := make([]byte, 0, envelopeSaltSize+envelopeIVSize+len(ct)+envelopeMacSize)
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ct...)
	out = append(out, tag...)
	return out, nil
}

// Open decrypts and authenticates data sealed with Seal.
func Open(masterKey, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < envelopeMinSize {
		return nil, errCiphertextTooShort
	}
	if len(masterKey) == 0 {
		return nil, errors.New("kms: empty master key")
	}
	salt := ciphertext[:envelopeSaltSize]
	iv := ciphertext[envelopeSaltSize : envelopeSaltSize+envelopeIVSize]
	macStart := len(ciphertext) - envelopeMacSize
	body := ciphertext[envelopeSaltSize+envelopeIVSize : macStart]
	tag := ciphertext[macStart:]

	encKey, macKey, err := deriveEnvelopeKeys(masterKey, salt)
	if err != nil {
		return nil, err
	}
	defer zero(encKey)
	defer zero(macKey)
	expected := computeMAC(macKey, aad, iv, body)
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return nil, errInvalidMAC
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(body))
	cipher.NewCTR(block, iv).XORKeyStream(pt, body)
	return pt, nil
}

func deriveEnvelopeKeys(masterKey, salt []byte) (encKey, macKey []byte, err error) {
	stream := hkdf.New(sha256.New, masterKey, salt, []byte("piiindex/kms/envelope/v1"))
	encKey = make([]byte, 32)
	macKey = make([]byte, 32)
	if _, err = io.ReadFull(stream, encKey); err != nil {
		return nil, nil, err
	}
	if _, err = io.ReadFull(stream, macKey); err != nil {
		return nil, nil, err
	}
	return encKey, macKey, nil
}

// zero overwrites a derived subkey's backing bytes once it is no longer
// needed, rather than leaving it for the garbage collector to reclaim
// unchanged.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func computeMAC(macKey, aad, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	if len(aad) > 0 {
		mac.Write(aad)
	}
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// SealX and OpenX use XChaCha20-Poly1305, the AEAD DemoKMS prefers when a
// single combined confidentiality/integrity primitive is wanted instead of
// the envelope's encrypt-then-MAC composition.
func SealX(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, xchacha.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out[:len(nonce)], nonce, plaintext, aad)
	return out, nil
}

func OpenX(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < xchacha.NonceSizeX {
		return nil, errCiphertextTooShort
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	ct := ciphertext[xchacha.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}

// KDFParams configures the Argon2id pass that turns an operator-supplied
// passphrase into a fixed-size secret, used at startup to arrive at the
// PRF master secret without requiring a raw 32-byte key on the command
// line.
type KDFParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	Salt        []byte
}

// DefaultKDFParams returns parameters sized for a one-shot startup
// derivation rather than interactive login latency.
func DefaultKDFParams(salt []byte) KDFParams {
	return KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4, Salt: salt}
}

// DeriveSecret runs Argon2id over passphrase and returns a 32-byte secret
// suitable as a prf.Keyer master secret.
func DeriveSecret(passphrase string, p KDFParams) []byte {
	return argon2.IDKey([]byte(passphrase), p.Salt, p.Iterations, p.Memory, p.Parallelism, 32)
}

// DemoKMS is an in-process stand-in for a real key-management service: it
// holds one XChaCha20-Poly1305 key and implements Decrypter directly. It
// exists for tests and small single-process deployments; production
// deployments implement Decrypter against a real KMS instead.
type DemoKMS struct {
	key []byte
}

// NewDemoKMS builds a DemoKMS from a 32-byte key.
func NewDemoKMS(key []byte) (*DemoKMS, error) {
	if len(key) != xchacha.KeySize {
		return nil, apperr.New(apperr.SecretMissing, "demo kms key must be 32 bytes")
	}
	return &DemoKMS{key: key}, nil
}

// Encrypt seals plaintext for later Decrypt, used by tests and bulk-load
// fixtures to produce realistic ciphertexts.
func (d *DemoKMS) Encrypt(plaintext, aad []byte) ([]byte, error) {
	return SealX(d.key, plaintext, aad)
}

// Decrypt implements Decrypter.
func (d *DemoKMS) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	pt, err := OpenX(d.key, ciphertext, aad)
	if err != nil {
		return nil, apperr.Wrap(apperr.Integrity, "demo kms decrypt", err)
	}
	return pt, nil
}
