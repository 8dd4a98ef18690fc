package stream

import (
	"bufio"
	"compress/zlib"
	"io"
)

// ZSource inflates a zlib/deflate stream read from an inner reader. If
// bytes remain in the underlying stream after the deflate stream's own
// end-of-stream marker, ExtraData is set rather than the read failing
// (spec.md §4.4: "trailing garbage after end-of-stream" is a warning, not
// a fatal error).
type ZSource struct {
	br        *bufio.Reader
	zr        io.ReadCloser
	extraData bool
	eof       bool
}

// NewZSource constructs a ZSource over inner.
func NewZSource(inner io.Reader) (*ZSource, error) {
	br := bufio.NewReader(inner)
	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, err
	}
	return &ZSource{br: br, zr: zr}, nil
}

func (z *ZSource) Read(p []byte) (int, error) {
	n, err := z.zr.Read(p)
	if err == io.EOF && !z.eof {
		z.eof = true
		if _, peekErr := z.br.Peek(1); peekErr == nil {
			z.extraData = true
		}
	}
	return n, err
}

// ExtraData reports whether bytes remained in the underlying stream past
// the deflate end-of-stream marker. Only meaningful after Read has
// returned io.EOF.
func (z *ZSource) ExtraData() bool { return z.extraData }

// IsEOF reports whether the deflate stream has been fully consumed.
func (z *ZSource) IsEOF() bool { return z.eof }

func (z *ZSource) Close() error { return z.zr.Close() }

// ZConsumer deflates data written to it into an underlying consumer, using
// zlib's default window.
type ZConsumer struct {
	inner Consumer
	zw    *zlib.Writer
}

// NewZConsumer constructs a ZConsumer writing to inner.
func NewZConsumer(inner Consumer) *ZConsumer {
	return &ZConsumer{inner: inner, zw: zlib.NewWriter(inner)}
}

func (z *ZConsumer) Write(p []byte) (int, error) {
	return z.zw.Write(p)
}

// Close flushes the deflate trailer and closes the inner consumer.
func (z *ZConsumer) Close() error {
	if err := z.zw.Close(); err != nil {
		return err
	}
	return z.inner.Close()
}
