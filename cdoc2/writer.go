package cdoc2

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/crypto"
	"github.com/cdoc-project/cdoc/errs"
	"github.com/cdoc-project/cdoc/internal/flatheader"
	"github.com/cdoc-project/cdoc/lock"
	"github.com/cdoc-project/cdoc/stream"
)

// defaultPBKDF2Iter is used when a CDoc2-Password Descriptor leaves
// KDFIterCount at zero.
const defaultPBKDF2Iter = 650000

type writerState int

const (
	stateRecipients writerState = iota
	statePayload
	stateFinalized
)

// Writer implements the CDoc2 push-encryption API: AddRecipient wraps the
// FMK for each recipient while the header is still open, the first AddFile
// locks the header (writes LABEL/header/hmac/nonce and initializes the
// payload cipher), and Write/Finish stream files through the
// TAR->deflate->AEAD pipeline. Output goes to a temp file beside the
// target path and is renamed into place on Finish, so a dropped Writer
// never leaves a partially-written file at the destination (spec.md §5).
type Writer struct {
	cb backend.CryptoBackend

	finalPath string
	tmp       *os.File
	closed    bool

	state writerState
	fmk   crypto.Secret
	hhk   []byte
	nonce []byte
	hb    *flatheader.HeaderBuilder

	tar    *stream.TarConsumer
	z      *stream.ZConsumer
	cipher *stream.CipherConsumer
}

// NewWriter begins encryption to path: generates the FMK, derives CEK and
// HHK, and opens a temp file in path's directory to stream output into.
func NewWriter(path string, cb backend.CryptoBackend) (*Writer, error) {
	fmkBytes := make([]byte, KeyLen)
	if _, err := rand.Read(fmkBytes); err != nil {
		return nil, errs.Wrap(errs.CryptoError, "generating FMK", err)
	}
	fmk := crypto.NewSecret(fmkBytes)

	hhk, err := deriveHHK(fmkBytes)
	if err != nil {
		fmk.Zero()
		return nil, err
	}

	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		fmk.Zero()
		return nil, errs.Wrap(errs.CryptoError, "generating payload nonce", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cdoc2-*.tmp")
	if err != nil {
		fmk.Zero()
		return nil, errs.Wrap(errs.OutputStreamError, "creating temp output file", err)
	}

	w := &Writer{
		cb:        cb,
		finalPath: path,
		tmp:       tmp,
		state:     stateRecipients,
		fmk:       fmk,
		hhk:       hhk,
		nonce:     nonce,
		hb:        flatheader.NewHeaderBuilder(),
	}
	// Safety net for a Writer dropped without Finish/Close: Close itself
	// disarms this before it would ever run on the success path.
	runtime.SetFinalizer(w, func(w *Writer) { _ = w.Close() })
	return w, nil
}

// AddRecipient wraps the FMK for d and appends its recipient descriptor to
// the pending header. Must be called before the first AddFile.
func (w *Writer) AddRecipient(d lock.Descriptor) error {
	if w.state != stateRecipients {
		return errs.New(errs.WorkflowError, "AddRecipient called after the header was locked")
	}
	if d.Label == "" {
		return errs.New(errs.InvalidParams, "recipient label must be non-empty")
	}

	switch d.Kind {
	case lock.CDoc2PublicKeyRSA:
		return w.addRSARecipient(d)
	case lock.CDoc2PublicKeyECC:
		return w.addECCRecipient(d)
	case lock.CDoc2Symmetric:
		return w.addSymmetricRecipient(d)
	case lock.CDoc2Password:
		return w.addPasswordRecipient(d)
	case lock.CDoc2Server:
		return errs.New(errs.NotImplemented, "CDoc2-Server recipients must be published to the key server out of band; the writer does not speak the put_key side of that protocol")
	default:
		return errs.New(errs.InvalidParams, "descriptor is not a CDoc2 recipient kind")
	}
}

func (w *Writer) addRSARecipient(d lock.Descriptor) error {
	pub, err := parseRSAPublicKey(d.RecipientPublicKeyRSA)
	if err != nil {
		return err
	}
	kek := make([]byte, KeyLen)
	if _, err := rand.Read(kek); err != nil {
		return errs.Wrap(errs.CryptoError, "generating KEK", err)
	}
	encKEK, err := crypto.RSAEncrypt(pub, kek, true)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "RSA-OAEP KEK wrap failed", err)
	}
	encFMK, err := crypto.XOR(kek, w.fmk.Bytes())
	if err != nil {
		return errs.Wrap(errs.CryptoError, "FMK XOR-wrap failed", err)
	}
	w.hb.AddRecipient(flatheader.RecipientBuilder{
		KeyLabel:           d.Label,
		EncryptedFMK:       encFMK,
		Kind:               flatheader.CapsuleRSAPublicKey,
		RecipientPublicKey: d.RecipientPublicKeyRSA,
		EncryptedKEK:       encKEK,
	})
	return nil
}

func (w *Writer) addECCRecipient(d lock.Descriptor) error {
	recipientPub, err := parseECCPub(d.RecipientPublicKeyECC)
	if err != nil {
		return err
	}
	ephemeralPriv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "generating ephemeral ECDH key", err)
	}
	senderPubRaw := ephemeralPriv.PublicKey().Bytes()

	z, err := crypto.ECDHP384(ephemeralPriv, recipientPub)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "ECDH agreement failed", err)
	}
	premaster := crypto.HKDFExtract([]byte(saltKEKPremaster), z)
	kek, err := crypto.HKDFExpand(premaster, eccKEKInfo(d.RecipientPublicKeyECC, senderPubRaw), KeyLen)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "HKDF-Expand failed", err)
	}
	encFMK, err := crypto.XOR(kek, w.fmk.Bytes())
	if err != nil {
		return errs.Wrap(errs.CryptoError, "FMK XOR-wrap failed", err)
	}
	w.hb.AddRecipient(flatheader.RecipientBuilder{
		KeyLabel:           d.Label,
		EncryptedFMK:       encFMK,
		Kind:               flatheader.CapsuleECCPublicKey,
		Curve:              flatheader.CurveSECP384R1,
		RecipientPublicKey: d.RecipientPublicKeyECC,
		SenderPublicKey:    senderPubRaw,
	})
	return nil
}

func (w *Writer) addSymmetricRecipient(d lock.Descriptor) error {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.CryptoError, "generating salt", err)
	}
	prk, err := w.cb.ExtractHKDF(d.Label, salt, nil, 0)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "symmetric KEK derivation failed", err)
	}
	kek, err := crypto.HKDFExpand(prk, symmetricInfo(d.Label), KeyLen)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "HKDF-Expand failed", err)
	}
	encFMK, err := crypto.XOR(kek, w.fmk.Bytes())
	if err != nil {
		return errs.Wrap(errs.CryptoError, "FMK XOR-wrap failed", err)
	}
	w.hb.AddRecipient(flatheader.RecipientBuilder{
		KeyLabel:     d.Label,
		EncryptedFMK: encFMK,
		Kind:         flatheader.CapsuleSymmetricKey,
		Salt:         salt,
	})
	return nil
}

func (w *Writer) addPasswordRecipient(d lock.Descriptor) error {
	iter := d.KDFIterCount
	if iter == 0 {
		iter = defaultPBKDF2Iter
	}
	if iter < 100000 {
		return errs.New(errs.InvalidParams, "CDoc2-Password kdf_iter must be at least 100000")
	}
	salt := make([]byte, 32)
	pwSalt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.CryptoError, "generating salt", err)
	}
	if _, err := rand.Read(pwSalt); err != nil {
		return errs.Wrap(errs.CryptoError, "generating password salt", err)
	}
	prk, err := w.cb.ExtractHKDF(d.Label, salt, pwSalt, iter)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "password KEK derivation failed", err)
	}
	kek, err := crypto.HKDFExpand(prk, symmetricInfo(d.Label), KeyLen)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "HKDF-Expand failed", err)
	}
	encFMK, err := crypto.XOR(kek, w.fmk.Bytes())
	if err != nil {
		return errs.Wrap(errs.CryptoError, "FMK XOR-wrap failed", err)
	}
	w.hb.AddRecipient(flatheader.RecipientBuilder{
		KeyLabel:     d.Label,
		EncryptedFMK: encFMK,
		Kind:         flatheader.CapsulePBKDF2,
		Salt:         salt,
		PasswordSalt: pwSalt,
		KDFAlgorithm: "PBKDF2WithHmacSHA256",
		KDFIterCount: uint32(iter),
	})
	return nil
}

// AddFile starts a new regular-file entry in the payload's TAR stream. The
// first call locks the header: it is serialized, HMAC-tagged, and written
// to the output alongside the nonce, and the payload cipher is
// initialized with the resulting AAD.
func (w *Writer) AddFile(name string, size int64) error {
	if w.state == stateRecipients {
		if err := w.lockHeader(); err != nil {
			return err
		}
	}
	if w.state != statePayload {
		return errs.New(errs.WorkflowError, "AddFile called out of order")
	}
	if err := w.tar.Next(name, size); err != nil {
		return errs.Wrap(errs.OutputStreamError, "writing TAR header", err)
	}
	return nil
}

// Write streams plaintext bytes into the current file entry, as
// established by the most recent AddFile call.
func (w *Writer) Write(p []byte) (int, error) {
	if w.state != statePayload {
		return 0, errs.New(errs.WorkflowError, "Write called out of order")
	}
	return w.tar.Write(p)
}

// Finish flushes the TAR trailer, the deflate trailer, and the AEAD tag,
// closes the temp file, and renames it into place. Calling Finish before
// any AddFile locks the header and produces a container with zero files.
func (w *Writer) Finish() error {
	if w.state == stateRecipients {
		if err := w.lockHeader(); err != nil {
			return err
		}
	}
	if w.state != statePayload {
		return errs.New(errs.WorkflowError, "Finish called out of order")
	}

	if err := w.tar.Close(); err != nil {
		w.Close()
		return errs.Wrap(errs.OutputStreamError, "closing payload pipeline", err)
	}
	if err := w.tmp.Close(); err != nil {
		w.Close()
		return errs.Wrap(errs.OutputStreamError, "closing temp output file", err)
	}
	if err := os.Rename(w.tmp.Name(), w.finalPath); err != nil {
		return errs.Wrap(errs.OutputStreamError, "renaming temp output file into place", err)
	}

	w.fmk.Zero()
	w.closed = true
	runtime.SetFinalizer(w, nil)
	w.state = stateFinalized
	return nil
}

// Close is a safety net for a Writer abandoned before Finish: it removes
// the temp file so a dropped Writer doesn't leave stray output beside the
// target path. NewWriter also registers Close as a finalizer, matching
// this package's Finish/abort contract with a best-effort GC backstop.
// Safe to call more than once; a no-op once Finish has already succeeded.
func (w *Writer) Close() error {
	if w == nil || w.closed {
		return nil
	}
	runtime.SetFinalizer(w, nil)
	w.closed = true
	if w.state == stateFinalized {
		return nil
	}
	w.abort()
	return nil
}

// lockHeader serializes the pending recipient list, writes
// LABEL+header_len+header_bytes+header_hmac+nonce, and wires up the
// TAR->deflate->AEAD write pipeline.
func (w *Writer) lockHeader() error {
	headerBytes := w.hb.Finish()
	headerHMAC := crypto.HMACSHA256(w.hhk, headerBytes)

	if _, err := w.tmp.Write(Label); err != nil {
		return errs.Wrap(errs.OutputStreamError, "writing label", err)
	}
	var headerLen [4]byte
	binary.BigEndian.PutUint32(headerLen[:], uint32(len(headerBytes)))
	if _, err := w.tmp.Write(headerLen[:]); err != nil {
		return errs.Wrap(errs.OutputStreamError, "writing header_len", err)
	}
	if _, err := w.tmp.Write(headerBytes); err != nil {
		return errs.Wrap(errs.OutputStreamError, "writing header_bytes", err)
	}
	if _, err := w.tmp.Write(headerHMAC); err != nil {
		return errs.Wrap(errs.OutputStreamError, "writing header_hmac", err)
	}
	if _, err := w.tmp.Write(w.nonce); err != nil {
		return errs.Wrap(errs.OutputStreamError, "writing nonce", err)
	}

	cek, err := deriveCEK(w.fmk.Bytes())
	if err != nil {
		return err
	}
	cipher, err := crypto.NewChaCha20Poly1305(cek, w.nonce, true)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "initializing payload cipher", err)
	}
	aad := append(append([]byte(aadPrefix), headerBytes...), headerHMAC...)
	if err := cipher.UpdateAAD(aad); err != nil {
		return errs.Wrap(errs.CryptoError, "setting payload AAD", err)
	}

	fc := fileConsumer{f: w.tmp}
	w.cipher = stream.NewCipherConsumer(fc, cipher)
	w.z = stream.NewZConsumer(w.cipher)
	w.tar = stream.NewTarConsumer(w.z)

	w.state = statePayload
	return nil
}

// abort removes the temp file after an unrecoverable error mid-write, so
// a failed Finish does not leave stray temp files behind.
func (w *Writer) abort() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// fileConsumer adapts *os.File to stream.Consumer. Close is a no-op: the
// temp file's lifecycle (close, then rename) is owned by Writer.Finish.
type fileConsumer struct{ f *os.File }

func (c fileConsumer) Write(p []byte) (int, error) { return c.f.Write(p) }
func (c fileConsumer) Close() error                { return nil }

func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParams, "parsing recipient RSA public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errs.New(errs.InvalidParams, "recipient public key is not RSA")
	}
	return rsaPub, nil
}
