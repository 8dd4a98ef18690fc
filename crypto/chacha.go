package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"
)

// StreamCipher is a streaming ChaCha20-Poly1305 object, matching the
// source's Crypto::Cipher usage in the reader/writer state machines: AAD
// is fixed once via UpdateAAD, plaintext/ciphertext chunks are fed through
// Update, and the running authentication tag becomes available only after
// Finalize (encrypt) or is checked only after SetTag (decrypt).
//
// Because Go's stdlib AEAD interface (cipher.AEAD) is not incremental, this
// type buffers the full message internally and defers the actual Seal/Open
// call to Finalize; callers still get the streaming-shaped API the CDoc2
// pipeline composes against (stream.CipherSource/CipherConsumer).
type StreamCipher struct {
	aead    ciphAEAD
	nonce   []byte
	aad     []byte
	buf     []byte
	encrypt bool
	tag     []byte
	done    bool
}

type ciphAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// NewChaCha20Poly1305 constructs a StreamCipher for the given 32-byte key
// and 12-byte nonce. encrypt selects Seal (true) or Open (false) mode.
func NewChaCha20Poly1305(key, nonce []byte, encrypt bool) (*StreamCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errf(KindInvalidInput, "chacha20poly1305.New: %v", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errf(KindInvalidInput, "nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return &StreamCipher{aead: aead, nonce: nonce, encrypt: encrypt}, nil
}

// UpdateAAD sets the additional authenticated data; must be called before
// the first Update.
func (c *StreamCipher) UpdateAAD(aad []byte) error {
	if len(c.buf) != 0 {
		return errf(KindInvalidInput, "UpdateAAD must precede Update")
	}
	c.aad = append(c.aad[:0], aad...)
	return nil
}

// Update feeds a chunk of plaintext (encrypt mode) or ciphertext (decrypt
// mode, tag excluded) into the cipher. It buffers the chunk and always
// returns nil output in both modes: the whole result comes from Finalize,
// so that no unauthenticated plaintext is ever released; see
// TaggedSource for how the final 16 bytes are separated from ciphertext
// upstream.
func (c *StreamCipher) Update(chunk []byte) ([]byte, error) {
	if c.done {
		return nil, errf(KindInvalidInput, "cipher already finalized")
	}
	if c.encrypt {
		c.buf = append(c.buf, chunk...)
		return nil, nil
	}
	c.buf = append(c.buf, chunk...)
	return nil, nil
}

// SetTag supplies the 16-byte Poly1305 tag recovered from the trailer, for
// use by Finalize in decrypt mode.
func (c *StreamCipher) SetTag(tag []byte) {
	c.tag = append([]byte(nil), tag...)
}

// Finalize completes the AEAD operation. In encrypt mode it returns the
// buffered ciphertext with the tag appended. In decrypt mode it verifies
// the tag set via SetTag against the buffered ciphertext and returns the
// plaintext only if authentication succeeds.
func (c *StreamCipher) Finalize() ([]byte, error) {
	if c.done {
		return nil, errf(KindInvalidInput, "cipher already finalized")
	}
	c.done = true
	if c.encrypt {
		return c.aead.Seal(nil, c.nonce, c.buf, c.aad), nil
	}
	if len(c.tag) != c.aead.Overhead() {
		return nil, errf(KindTagMismatch, "tag must be %d bytes, got %d", c.aead.Overhead(), len(c.tag))
	}
	ct := append(append([]byte(nil), c.buf...), c.tag...)
	pt, err := c.aead.Open(nil, c.nonce, ct, c.aad)
	if err != nil {
		return nil, errf(KindTagMismatch, "ChaCha20-Poly1305 authentication failed: %v", err)
	}
	return pt, nil
}
