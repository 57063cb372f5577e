// Package prf implements a keyed pseudorandom function used as the only
// primitive that derives index keys. It reuses the derive-then-HMAC shape
// of envelope encryption, HKDF-SHA256 expanding a per-purpose subkey from
// a master secret then a keyed HMAC tag, repurposed here to fingerprint
// fragments instead of authenticate ciphertext.
package prf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// outputSize is the fixed PRF output width: 32 bytes.
const outputSize = 32

// fingerprintInfo provides domain separation between subkeys expanded from
// the same master secret.
const fingerprintInfo = "piiindex/fingerprint/v1"

// ErrSecretMissing is returned by any Keyer method when no secret has been
// loaded.
var ErrSecretMissing = errors.New("prf: secret not loaded")

// Keyer is the process-wide keyed-hash installation. It is built once at
// startup from a loaded secret and held read-only for the process
// lifetime; rotation requires restarting with a new secret rather than
// live dual-key serving.
type Keyer struct {
	mu      sync.RWMutex
	subkey  []byte // HKDF-expanded fingerprint key, fixed for process lifetime
	version int
	locked  bool // true if subkey was successfully mlock'd
}

// NewKeyer derives the process fingerprint subkey from a master secret via
// HKDF-SHA256 (domain-separated from any other purpose the same secret may
// serve, e.g. a demo KMS key) and returns a ready-to-use Keyer. The subkey
// is mlock'd to keep it out of swap for as long as the Keyer lives; mlock
// failure (e.g. no CAP_IPC_LOCK in a container) is not fatal, since
// indexing is still correct, just without that hardening.
func NewKeyer(secret []byte, version int) (*Keyer, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	stream := hkdf.New(sha256.New, secret, nil, []byte(fingerprintInfo))
	subkey := make([]byte, outputSize)
	if _, err := io.ReadFull(stream, subkey); err != nil {
		return nil, err
	}
	locked := lockMemory(subkey) == nil
	return &Keyer{subkey: subkey, version: version, locked: locked}, nil
}

// Close releases the subkey: it is unlocked (if it was mlock'd) and
// overwritten with zeros. The Keyer must not be used again afterward.
func (k *Keyer) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locked {
		_ = unlockMemory(k.subkey)
		k.locked = false
	}
	zero(k.subkey)
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Version reports the secret-version this Keyer's subkey was derived from.
func (k *Keyer) Version() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.version
}

// H is the keyed hash F(secret, message) -> opaque string. message is
// always "<alias>|<fragment>" so the same fragment across different fields
// yields different keys.
func (k *Keyer) H(message []byte) (string, error) {
	k.mu.RLock()
	subkey := k.subkey
	k.mu.RUnlock()
	if len(subkey) == 0 {
		return "", ErrSecretMissing
	}
	mac := hmac.New(sha256.New, subkey)
	mac.Write(message)
	sum := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
