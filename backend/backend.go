// Package backend defines the capability interfaces a caller supplies to
// the cdoc core: key material access (CryptoBackend) and key-server
// transport (NetworkBackend). Neither interface is implemented by the
// core itself for production use — see DefaultCryptoBackend for a
// label-keyed reference implementation, and internal/keyserver for a
// reference NetworkBackend transport used by tests and the CLI.
package backend

import (
	"crypto/ecdh"

	"github.com/cdoc-project/cdoc/crypto"
)

// CryptoBackend abstracts key material access so the core never touches a
// private key or password directly. label identifies which stored key or
// secret the backend should use; it is the value carried on Lock.Label.
type CryptoBackend interface {
	// RSADecrypt unwraps an RSA-encrypted key blob, PKCS#1 v1.5 or OAEP-SHA-256.
	RSADecrypt(label string, ciphertext []byte, oaep bool) ([]byte, error)

	// DeriveConcatKDF performs ECDH against peerPub with the backend's
	// private key for label, then ConcatKDF-derives a KEK of length l.
	DeriveConcatKDF(label string, peerPub *ecdh.PublicKey, digest crypto.ConcatDigest, algorithmID, partyUInfo, partyVInfo []byte, l int) ([]byte, error)

	// DeriveHMACExtract performs ECDH against peerPub with the backend's
	// private key for label, then HKDF-Extracts a 32-byte pre-master using salt.
	DeriveHMACExtract(label string, peerPub *ecdh.PublicKey, salt []byte) ([]byte, error)

	// ExtractHKDF derives a 32-byte key from the secret stored under label
	// via PBKDF2(secret, pwSalt, iter) then HKDF-Extract(salt, .).
	ExtractHKDF(label string, salt, pwSalt []byte, iter int) ([]byte, error)

	// GetSecret returns the raw password or symmetric key stored under label.
	GetSecret(label string) ([]byte, error)

	// Sign produces a TLS client-auth signature over digest using the key
	// stored under label. Backends that do not support key-server locks
	// may return a NotImplemented error.
	Sign(label string, alg string, digest []byte) ([]byte, error)
}

// NetworkBackend abstracts key-server transport for CDoc2Server locks.
// Implementations must use mutual TLS: the client certificate is supplied
// by GetClientTLSCertificate, and GetPeerTLSCertificates pins the servers
// the caller trusts. Transport errors are retriable by the caller; the
// core treats them as opaque IOError.
type NetworkBackend interface {
	// FetchKey retrieves the sender's ephemeral public key for a prior
	// key-server transaction, returning it DER/raw-encoded.
	FetchKey(keyserverID, transactionID string) ([]byte, error)

	GetClientTLSCertificate() ([]byte, error)
	GetPeerTLSCertificates() ([][]byte, error)
	SignTLS(alg string, digest []byte) ([]byte, error)
}
