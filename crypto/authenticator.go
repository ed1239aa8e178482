package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// TagSize is the length of the authentication tag appended to every framed
// datagram header.
const TagSize = 8

// authInfo binds derived keys to this protocol so the same session secret
// can never produce tags that verify elsewhere.
var authInfo = []byte("ovtransport datagram authentication v1")

// ErrEmptySecret is returned when an authenticator is built without a secret.
var ErrEmptySecret = errors.New("shared secret is empty")

// Authenticator computes and verifies datagram tags from the session's shared
// secret. It holds only the derived key and is safe for concurrent use.
type Authenticator struct {
	key [32]byte
}

// NewAuthenticator derives a MAC key from the shared secret supplied by the
// signalling layer.
func NewAuthenticator(secret []byte) (*Authenticator, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	a := &Authenticator{}
	kdf := hkdf.New(sha256.New, secret, nil, authInfo)
	if _, err := io.ReadFull(kdf, a.key[:]); err != nil {
		return nil, fmt.Errorf("derive authentication key: %w", err)
	}

	NewLogger("NewAuthenticator").WithFields(SecureFieldHash(a.Fingerprint(), "fingerprint")).Debug("Derived datagram authentication key")
	return a, nil
}

// Fingerprint returns a short one-way digest of the derived key. Devices
// sharing a secret report the same fingerprint.
func (a *Authenticator) Fingerprint() []byte {
	sum := blake2b.Sum256(a.key[:])
	return sum[:4]
}

// Tag returns the keyed BLAKE2b tag over the header fields and payload.
func (a *Authenticator) Tag(header, payload []byte) [TagSize]byte {
	var tag [TagSize]byte
	h, err := blake2b.New(TagSize, a.key[:])
	if err != nil {
		// only reachable with an invalid size or key length, both constant
		panic(err)
	}
	h.Write(header)
	h.Write(payload)
	copy(tag[:], h.Sum(nil))
	return tag
}

// Verify reports whether tag matches header and payload. The comparison runs
// in constant time.
func (a *Authenticator) Verify(tag, header, payload []byte) bool {
	if len(tag) != TagSize {
		return false
	}
	expected := a.Tag(header, payload)
	return subtle.ConstantTimeCompare(expected[:], tag) == 1
}

// Wipe erases the derived key. The authenticator must not be used afterwards.
func (a *Authenticator) Wipe() {
	Wipe(a.key[:])
}
