package backend

import (
	"crypto/ecdh"
	"crypto/rsa"
	"fmt"

	"github.com/cdoc-project/cdoc/crypto"

	"github.com/cdoc-project/cdoc/errs"
)

// DefaultCryptoBackend is a label-keyed in-memory CryptoBackend: the
// caller registers private keys and secrets under the labels that appear
// on the locks it expects to open, and the backend does the ECDH/KDF
// plumbing. It does not implement Sign — key-server TLS client auth needs
// a real certificate-bound signer, which callers must supply themselves
// (grounded on the teacher's label-keyed getState()/private-key lookup in
// cmd/root.go, generalized from "one key for this server" to "one key per
// label").
type DefaultCryptoBackend struct {
	rsaKeys  map[string]*rsa.PrivateKey
	ecdhKeys map[string]*ecdh.PrivateKey
	secrets  map[string][]byte
}

// NewDefaultCryptoBackend constructs an empty backend; use the With*
// methods to register key material before passing it to a Reader/Writer.
func NewDefaultCryptoBackend() *DefaultCryptoBackend {
	return &DefaultCryptoBackend{
		rsaKeys:  make(map[string]*rsa.PrivateKey),
		ecdhKeys: make(map[string]*ecdh.PrivateKey),
		secrets:  make(map[string][]byte),
	}
}

// WithRSAKey registers priv under label for RSADecrypt.
func (b *DefaultCryptoBackend) WithRSAKey(label string, priv *rsa.PrivateKey) *DefaultCryptoBackend {
	b.rsaKeys[label] = priv
	return b
}

// WithECDHKey registers priv under label for DeriveConcatKDF/DeriveHMACExtract.
func (b *DefaultCryptoBackend) WithECDHKey(label string, priv *ecdh.PrivateKey) *DefaultCryptoBackend {
	b.ecdhKeys[label] = priv
	return b
}

// WithSecret registers a password or raw symmetric key under label.
func (b *DefaultCryptoBackend) WithSecret(label string, secret []byte) *DefaultCryptoBackend {
	b.secrets[label] = secret
	return b
}

func (b *DefaultCryptoBackend) RSADecrypt(label string, ciphertext []byte, oaep bool) ([]byte, error) {
	priv, ok := b.rsaKeys[label]
	if !ok {
		return nil, errs.New(errs.InvalidParams, fmt.Sprintf("no rsa key registered for label %q", label))
	}
	return crypto.RSADecrypt(priv, ciphertext, oaep)
}

func (b *DefaultCryptoBackend) DeriveConcatKDF(label string, peerPub *ecdh.PublicKey, digest crypto.ConcatDigest, algorithmID, partyUInfo, partyVInfo []byte, l int) ([]byte, error) {
	priv, ok := b.ecdhKeys[label]
	if !ok {
		return nil, errs.New(errs.InvalidParams, fmt.Sprintf("no ecdh key registered for label %q", label))
	}
	z, err := crypto.ECDHP384(priv, peerPub)
	if err != nil {
		return nil, err
	}
	return crypto.ConcatKDF(digest, z, algorithmID, partyUInfo, partyVInfo, l)
}

func (b *DefaultCryptoBackend) DeriveHMACExtract(label string, peerPub *ecdh.PublicKey, salt []byte) ([]byte, error) {
	priv, ok := b.ecdhKeys[label]
	if !ok {
		return nil, errs.New(errs.InvalidParams, fmt.Sprintf("no ecdh key registered for label %q", label))
	}
	z, err := crypto.ECDHP384(priv, peerPub)
	if err != nil {
		return nil, err
	}
	return crypto.HKDFExtract(salt, z), nil
}

// ExtractHKDF serves both the symmetric-key and password lock paths. When
// iter is 0 (symmetric: no password stretching), the registered secret is
// used directly as HKDF-Extract's input key material. When iter is
// positive (password), the secret is first stretched with
// PBKDF2-HMAC-SHA-256(secret, pwSalt, iter) before the extract step.
func (b *DefaultCryptoBackend) ExtractHKDF(label string, salt, pwSalt []byte, iter int) ([]byte, error) {
	secret, ok := b.secrets[label]
	if !ok {
		return nil, errs.New(errs.InvalidParams, fmt.Sprintf("no secret registered for label %q", label))
	}
	ikm := secret
	if iter > 0 {
		stretched, err := crypto.PBKDF2HMACSHA256(secret, pwSalt, iter, 32)
		if err != nil {
			return nil, err
		}
		ikm = stretched
	}
	return crypto.HKDFExtract(salt, ikm), nil
}

func (b *DefaultCryptoBackend) GetSecret(label string) ([]byte, error) {
	secret, ok := b.secrets[label]
	if !ok {
		return nil, errs.New(errs.InvalidParams, fmt.Sprintf("no secret registered for label %q", label))
	}
	return secret, nil
}

func (b *DefaultCryptoBackend) Sign(label string, alg string, digest []byte) ([]byte, error) {
	return nil, errs.New(errs.NotImplemented, "DefaultCryptoBackend does not implement Sign; supply a backend backed by a real TLS client key")
}
