package stream

import (
	"io"
)

// TaggedSource wraps an underlying reader that ends in a fixed-length
// trailer (the CDoc2 Poly1305 tag) and withholds those trailing bytes from
// Read, exposing them instead via Tag once the underlying stream is
// exhausted. This is what lets CipherSource never see ciphertext that
// hasn't been authenticated yet: the tag travels in-band on the wire but
// is never delivered to the cipher layer.
type TaggedSource struct {
	r       io.Reader
	tagLen  int
	pending []byte // bytes read from r but not yet released to callers
	eof     bool
	tag     []byte
}

// NewTaggedSource constructs a TaggedSource that holds back the final
// tagLen bytes of r.
func NewTaggedSource(r io.Reader, tagLen int) *TaggedSource {
	return &TaggedSource{r: r, tagLen: tagLen}
}

// Read returns bytes from the underlying stream, except the final tagLen
// bytes, which are withheld and made available via Tag after Read first
// returns io.EOF.
func (t *TaggedSource) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for !t.eof && len(t.pending) <= t.tagLen {
		buf := make([]byte, 4096)
		n, err := t.r.Read(buf)
		t.pending = append(t.pending, buf[:n]...)
		if err != nil {
			if err != io.EOF {
				return 0, err
			}
			t.eof = true
			break
		}
	}

	releasable := len(t.pending) - t.tagLen
	if releasable <= 0 {
		if t.eof {
			if len(t.pending) != t.tagLen {
				return 0, io.ErrUnexpectedEOF
			}
			t.tag = t.pending
			t.pending = nil
			return 0, io.EOF
		}
		return 0, nil
	}

	n := copy(p, t.pending[:releasable])
	t.pending = t.pending[n:]
	return n, nil
}

// Tag returns the withheld trailing bytes. Valid only after Read has
// returned io.EOF.
func (t *TaggedSource) Tag() []byte { return t.tag }

// Close releases the underlying reader if it is closable.
func (t *TaggedSource) Close() error {
	if c, ok := t.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Rebuffer discards any withheld state, for use after a Seek on the
// underlying stream (spec.md §4.4: "On seek, rebuffers").
func (t *TaggedSource) Rebuffer() {
	t.pending = nil
	t.eof = false
	t.tag = nil
}
