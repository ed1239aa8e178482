// Package crypto implements the shared-secret primitives of the stage
// transport.
//
// The signalling layer hands every session a shared secret. This package
// never negotiates or encrypts anything; it only derives a MAC key from that
// secret and uses it to authenticate framed datagrams:
//
//	auth, err := crypto.NewAuthenticator([]byte(secret))
//	if err != nil {
//	    return err
//	}
//	tag := auth.Tag(header, payload)
//	ok := auth.Verify(tag[:], header, payload)
//
// The key is derived with HKDF-SHA256 and the tag is a keyed BLAKE2b digest
// truncated to [TagSize] bytes, both from golang.org/x/crypto.
//
// The package also hosts the [TimeProvider] abstraction used by liveness and
// bitrate code, and the [LoggerHelper] that gives logrus entries consistent
// function/package fields.
package crypto
