package stream

import (
	"archive/tar"
	"io"
)

// TarSource walks a USTAR archive entry by entry: 512-byte header records,
// octal sizes, 512-byte body alignment. Only regular files are emitted;
// symbolic links, directories, and device nodes are skipped (spec.md
// §4.4).
type TarSource struct {
	tr   *tar.Reader
	name string
	size int64
}

// NewTarSource constructs a TarSource over inner.
func NewTarSource(inner io.Reader) *TarSource {
	return &TarSource{tr: tar.NewReader(inner)}
}

// Next advances to the next regular-file entry and returns its name and
// size. Returns io.EOF once the archive is exhausted.
func (t *TarSource) Next() (name string, size int64, err error) {
	for {
		hdr, err := t.tr.Next()
		if err != nil {
			return "", 0, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		t.name = hdr.Name
		t.size = hdr.Size
		return hdr.Name, hdr.Size, nil
	}
}

// Read reads from the current entry's body, as established by the most
// recent call to Next.
func (t *TarSource) Read(p []byte) (int, error) {
	return t.tr.Read(p)
}

func (t *TarSource) Close() error { return nil }

// TarConsumer writes a USTAR archive to an underlying consumer, one
// regular-file entry at a time.
type TarConsumer struct {
	inner Consumer
	tw    *tar.Writer
}

// NewTarConsumer constructs a TarConsumer writing to inner.
func NewTarConsumer(inner Consumer) *TarConsumer {
	return &TarConsumer{inner: inner, tw: tar.NewWriter(inner)}
}

// Next starts a new regular-file entry with the given name and size. The
// following Write calls must supply exactly size bytes before the next
// Next or Close.
func (t *TarConsumer) Next(name string, size int64) error {
	return t.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     size,
		Mode:     0644,
	})
}

func (t *TarConsumer) Write(p []byte) (int, error) {
	return t.tw.Write(p)
}

// Close flushes the TAR trailer and closes the inner consumer.
func (t *TarConsumer) Close() error {
	if err := t.tw.Close(); err != nil {
		return err
	}
	return t.inner.Close()
}
