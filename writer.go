package cdoc

import (
	"io"
	"os"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/cdoc1"
	"github.com/cdoc-project/cdoc/cdoc2"
	"github.com/cdoc-project/cdoc/lock"
)

// Writer is the encryption-side API common to both container formats.
// AddRecipient must be called at least once before the first AddFile;
// AddFile/Write may be interleaved to stream more than one file in.
type Writer interface {
	AddRecipient(d lock.Descriptor) error
	AddFile(name string, size int64) error
	Write(p []byte) (int, error)
	Finish() error

	// Close is a safety net for a Writer abandoned without Finish: for
	// CDoc2 it removes the temp file created beside the target path
	// (cdoc2.Writer also arms this as a finalizer, in case Close itself
	// is never called). CDoc1 has no temp file and Close is a no-op.
	// Always a no-op after a successful Finish.
	Close() error
}

// WriterOption configures format-specific details of a new Writer that a
// bare lock.Descriptor can't carry (the cipher suite, in particular,
// applies to the whole container rather than to any one recipient).
type WriterOption func(*writerOptions)

type writerOptions struct {
	cdoc1Cipher string
	cb          backend.CryptoBackend
}

// WithCDoc1Cipher selects the payload cipher URI for a new CDoc1
// container (see cdoc1's AES-CBC/AES-GCM algorithm constants). Ignored
// when format is CDoc2, whose cipher suite is fixed by spec.
func WithCDoc1Cipher(algorithmURI string) WriterOption {
	return func(o *writerOptions) { o.cdoc1Cipher = algorithmURI }
}

// WithCryptoBackend supplies the CryptoBackend a CDoc2 writer consults for
// CDoc2Symmetric/CDoc2Password recipients (it looks up the pre-shared
// secret or password under the recipient's Label). Ignored for CDoc1,
// whose writer only ever wraps public-key material and never calls back
// into a CryptoBackend. Defaults to an empty DefaultCryptoBackend, which
// works for RSA/ECC-only recipients but fails any symmetric/password one.
func WithCryptoBackend(cb backend.CryptoBackend) WriterOption {
	return func(o *writerOptions) { o.cb = cb }
}

// NewWriter begins encryption of a new container in the given format.
//
// CDoc2 containers are written via a temp-file-plus-rename sequence (see
// cdoc2.Writer), which needs a real filesystem path to create the temp
// file beside; w must therefore be an *os.File when format is CDoc2, or
// NewWriter returns NotSupported. CDoc1 has no such requirement and
// accepts any io.Writer.
func NewWriter(format Format, w io.Writer, opts ...WriterOption) (Writer, error) {
	var o writerOptions
	for _, opt := range opts {
		opt(&o)
	}

	switch format {
	case CDoc2:
		f, ok := w.(*os.File)
		if !ok {
			return nil, New(NotSupported, "CDoc2 output requires an *os.File so the writer can create a temp file beside it")
		}
		cb := o.cb
		if cb == nil {
			cb = backend.NewDefaultCryptoBackend()
		}
		inner, err := cdoc2.NewWriter(f.Name(), cb)
		if err != nil {
			return nil, err
		}
		return &cdoc2WriterAdapter{inner: inner}, nil
	case CDoc1:
		cdoc1Opts := cdoc1.WriterOptions{CipherMethod: o.cdoc1Cipher}
		return &cdoc1WriterAdapter{inner: cdoc1.NewWriter(w, cdoc1Opts)}, nil
	default:
		return nil, New(InvalidParams, "unknown container format")
	}
}

// cdoc2WriterAdapter satisfies Writer by passing lock.Descriptor straight
// through to cdoc2.Writer, which already speaks that type.
type cdoc2WriterAdapter struct {
	inner *cdoc2.Writer
}

func (a *cdoc2WriterAdapter) AddRecipient(d lock.Descriptor) error { return a.inner.AddRecipient(d) }
func (a *cdoc2WriterAdapter) AddFile(name string, size int64) error {
	return a.inner.AddFile(name, size)
}
func (a *cdoc2WriterAdapter) Write(p []byte) (int, error) { return a.inner.Write(p) }
func (a *cdoc2WriterAdapter) Finish() error                { return a.inner.Finish() }
func (a *cdoc2WriterAdapter) Close() error                  { return a.inner.Close() }

// cdoc1WriterAdapter satisfies Writer by translating lock.Descriptor into
// cdoc1.RecipientDescriptor, since CDoc1's legacy lock shapes (a
// certificate, an AES-KW key length) don't fit CDoc2's descriptor fields
// exactly even though both now live on lock.Descriptor.
type cdoc1WriterAdapter struct {
	inner *cdoc1.Writer
}

func (a *cdoc1WriterAdapter) AddRecipient(d lock.Descriptor) error {
	rd := cdoc1.RecipientDescriptor{
		Label:           d.Label,
		RecipientPubKey: d.RecipientPublicKeyECC,
		KWKeyLen:        d.KWKeyLen,
	}
	switch d.Kind {
	case lock.CDoc1RSA:
		rd.CertificateRSA = d.CertificateDER
	case lock.CDoc1ECDH:
		rd.CertificateECDH = d.CertificateDER
	default:
		return New(InvalidParams, "CDoc1 writer requires a CDoc1RSA or CDoc1ECDH descriptor kind")
	}
	return a.inner.AddRecipient(rd)
}

func (a *cdoc1WriterAdapter) AddFile(name string, size int64) error {
	return a.inner.AddFile(name, size)
}
func (a *cdoc1WriterAdapter) Write(p []byte) (int, error) { return a.inner.Write(p) }
func (a *cdoc1WriterAdapter) Finish() error                { return a.inner.Finish() }

// Close is a no-op: cdoc1.Writer buffers its whole document in memory and
// only touches the filesystem through the caller-supplied io.Writer, so
// there is no temp file of its own to clean up.
func (a *cdoc1WriterAdapter) Close() error { return nil }
