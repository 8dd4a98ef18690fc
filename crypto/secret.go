// Package crypto implements the pure cryptographic primitives CDoc builds
// its lock wrap/unwrap algorithms and payload AEAD from: AES-CBC/GCM/KW,
// RSA-OAEP/PKCS1v15, ECDH on P-384, HKDF, ConcatKDF, PBKDF2-HMAC-SHA-256,
// HMAC-SHA-256, ChaCha20-Poly1305, and constant-time XOR.
//
// Every function here operates on byte buffers only: no I/O, no network,
// no persistence. Failures are reported as *Error and never leave partial
// output behind.
package crypto

import "runtime"

// Secret holds key material (FMK, CEK, HHK, a derived KEK) that callers
// must zero once it is no longer needed by calling Zero. Go has no RAII,
// so zeroization here is explicit rather than guaranteed by scope exit;
// every reader/writer path that derives a Secret defers its Zero call.
// NewSecret also registers a finalizer as a best-effort backstop for
// secrets a caller forgets to zero: it cannot run deterministically and
// the GC may already have copied the backing array elsewhere, so it is
// not a substitute for the explicit defer.
type Secret struct {
	b *secretBytes
}

// secretBytes is the indirection the finalizer attaches to: SetFinalizer
// requires a distinct heap object, and Secret itself is passed by value
// throughout this codebase.
type secretBytes struct {
	data []byte
}

// NewSecret takes ownership of b and wraps it as a Secret.
func NewSecret(b []byte) Secret {
	sb := &secretBytes{data: b}
	runtime.SetFinalizer(sb, func(sb *secretBytes) { zeroBytes(sb.data) })
	return Secret{b: sb}
}

// Bytes returns the underlying key material. Callers must not retain the
// slice past the Secret's lifetime.
func (s Secret) Bytes() []byte {
	if s.b == nil {
		return nil
	}
	return s.b.data
}

// Len reports the length of the secret in bytes.
func (s Secret) Len() int {
	if s.b == nil {
		return 0
	}
	return len(s.b.data)
}

// Zero overwrites the secret's backing array with zeroes and disarms the
// finalizer, since there is nothing left for it to do. Safe to call more
// than once, and safe to call on the zero value.
func (s Secret) Zero() {
	if s.b == nil {
		return
	}
	zeroBytes(s.b.data)
	runtime.SetFinalizer(s.b, nil)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
