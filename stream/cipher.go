package stream

import (
	"io"

	"github.com/cdoc-project/cdoc/crypto"
)

// TaggedReader is the minimal interface CipherSource needs from its inner
// layer: an io.Reader whose Tag becomes available once Read first returns
// io.EOF (see TaggedSource).
type TaggedReader interface {
	io.Reader
	Tag() []byte
}

// CipherSource decrypts an inner TaggedReader with a ChaCha20-Poly1305
// StreamCipher. Read returns io.EOF only after the underlying source is
// exhausted AND Finalize succeeds against the tag TaggedReader withheld —
// so no plaintext is ever released before the AEAD tag has verified.
type CipherSource struct {
	inner    TaggedReader
	cipher   *crypto.StreamCipher
	plain    []byte
	final    bool
	finalErr error
}

// NewCipherSource constructs a CipherSource. aad must already have been
// set on cipher via UpdateAAD.
func NewCipherSource(inner TaggedReader, cipher *crypto.StreamCipher) *CipherSource {
	return &CipherSource{inner: inner, cipher: cipher}
}

func (c *CipherSource) Read(p []byte) (int, error) {
	for !c.finalized() {
		buf := make([]byte, 4096)
		n, err := c.inner.Read(buf)
		if n > 0 {
			if _, uerr := c.cipher.Update(buf[:n]); uerr != nil {
				return 0, uerr
			}
		}
		if err != nil {
			if err != io.EOF {
				return 0, err
			}
			c.cipher.SetTag(c.inner.Tag())
			plain, ferr := c.cipher.Finalize()
			c.finalErr = ferr
			if ferr == nil {
				c.plain = plain
			}
			c.final = true
			break
		}
	}
	if c.finalErr != nil {
		return 0, c.finalErr
	}
	if len(c.plain) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.plain)
	c.plain = c.plain[n:]
	return n, nil
}

func (c *CipherSource) finalized() bool { return c.final }

// Close closes the inner reader if closable.
func (c *CipherSource) Close() error {
	if cl, ok := c.inner.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// CipherConsumer encrypts plaintext written to it and, on Close, writes
// the resulting ciphertext followed by the Poly1305 tag to the underlying
// consumer.
type CipherConsumer struct {
	inner  Consumer
	cipher *crypto.StreamCipher
}

// NewCipherConsumer constructs a CipherConsumer. aad must already have
// been set on cipher via UpdateAAD.
func NewCipherConsumer(inner Consumer, cipher *crypto.StreamCipher) *CipherConsumer {
	return &CipherConsumer{inner: inner, cipher: cipher}
}

func (c *CipherConsumer) Write(p []byte) (int, error) {
	if _, err := c.cipher.Update(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close finalizes encryption, writes ciphertext||tag downstream, and
// closes the inner consumer.
func (c *CipherConsumer) Close() error {
	sealed, err := c.cipher.Finalize()
	if err != nil {
		return err
	}
	if _, err := c.inner.Write(sealed); err != nil {
		return err
	}
	return c.inner.Close()
}
