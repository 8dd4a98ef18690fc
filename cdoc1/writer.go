package cdoc1

import (
	"bytes"
	"compress/zlib"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/cdoc-project/cdoc/crypto"
	"github.com/cdoc-project/cdoc/errs"
)

// WriterOptions selects the payload cipher CDoc1's Writer uses; AES-256-GCM
// is the default (AES-256-CBC is kept for producing test fixtures and
// interoperating with legacy readers that predate the GCM variant).
type WriterOptions struct {
	CipherMethod string // one of the algAES*CBC/GCM constants; zero value -> AES-256-GCM
}

type writerState int

const (
	stateCollecting writerState = iota
	stateFinalized
)

// pendingFile is one file queued by AddFile/Write before Finish builds the
// document; CDoc1 has no incremental framing, so the whole payload must
// be assembled before it can be encrypted.
type pendingFile struct {
	name string
	buf  bytes.Buffer
}

// RecipientDescriptor is the writer-side input for one CDoc1 lock. When
// CertificateRSA is set, Finish wraps the FMK with RSA-PKCS#1 v1.5;
// otherwise it runs ECDH against RecipientPubKey, and CertificateECDH
// (optional) is carried into the recipient's KeyInfo.
type RecipientDescriptor struct {
	Label string

	// RSA: recipient's DER certificate, RSA public key.
	CertificateRSA []byte

	// ECDH: recipient's DER certificate and EC public key on the curve
	// the recipient's certificate uses (P-384, per this backend's ECDH
	// support).
	CertificateECDH []byte
	RecipientPubKey []byte
	ConcatDigestURI string // zero value -> SHA-256
	KWKeyLen        int    // zero value -> 32 (AES-256-KW)
}

// Writer implements CDoc1's XML-Enc writer. AddFile/Write queue files in
// memory; Finish packages them (as a single file, or as a DDOC bundle if
// more than one was added), encrypts the result, wraps the FMK for every
// queued recipient, and serializes the whole EncryptedData document to w.
type Writer struct {
	w    io.Writer
	opts WriterOptions

	recipients []RecipientDescriptor
	files      []*pendingFile
	cur        *pendingFile

	state writerState
}

// NewWriter begins a CDoc1 document that will be written to w on Finish.
func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	if opts.CipherMethod == "" {
		opts.CipherMethod = algAES256GCM
	}
	return &Writer{w: w, opts: opts}
}

// AddRecipient queues d to have the FMK wrapped for it when Finish runs.
func (w *Writer) AddRecipient(d RecipientDescriptor) error {
	if w.state != stateCollecting {
		return errs.New(errs.WorkflowError, "AddRecipient called after Finish")
	}
	if d.Label == "" {
		return errs.New(errs.InvalidParams, "recipient label must be non-empty")
	}
	w.recipients = append(w.recipients, d)
	return nil
}

// AddFile starts a new file entry; the following Write calls append to
// it.
func (w *Writer) AddFile(name string, size int64) error {
	if w.state != stateCollecting {
		return errs.New(errs.WorkflowError, "AddFile called after Finish")
	}
	pf := &pendingFile{name: name}
	w.files = append(w.files, pf)
	w.cur = pf
	return nil
}

// Write appends to the current file's buffered content.
func (w *Writer) Write(p []byte) (int, error) {
	if w.state != stateCollecting {
		return 0, errs.New(errs.WorkflowError, "Write called after Finish")
	}
	if w.cur == nil {
		return 0, errs.New(errs.WorkflowError, "Write called before AddFile")
	}
	return w.cur.buf.Write(p)
}

// Finish assembles the queued files, encrypts them, wraps the FMK for
// every queued recipient, and writes the complete CDoc1 XML document.
func (w *Writer) Finish() error {
	if w.state != stateCollecting {
		return errs.New(errs.WorkflowError, "Finish called twice")
	}
	if len(w.recipients) == 0 {
		return errs.New(errs.InvalidParams, "CDoc1 document needs at least one recipient")
	}

	spec, ok := cipherMethods[w.opts.CipherMethod]
	if !ok {
		return errs.New(errs.InvalidParams, fmt.Sprintf("unsupported payload cipher method %q", w.opts.CipherMethod))
	}
	fmkBytes := make([]byte, spec.keyLen)
	if _, err := rand.Read(fmkBytes); err != nil {
		return errs.Wrap(errs.CryptoError, "generating FMK", err)
	}
	fmk := crypto.NewSecret(fmkBytes)
	defer fmk.Zero()

	payload, mime, filename, origs, err := w.assemblePayload()
	if err != nil {
		return err
	}

	wrapped := mime
	var encryptedPayload []byte
	properties := map[string]string{}
	if isDDOCMime(mime) {
		deflated, err := deflate(payload)
		if err != nil {
			return errs.Wrap(errs.OutputStreamError, "deflating DDOC payload", err)
		}
		properties["OriginalMimeType"] = mime
		wrapped = mimeZlib
		payload = deflated
	}

	iv, ct, err := encryptPayload(w.opts.CipherMethod, fmk.Bytes(), payload)
	if err != nil {
		return err
	}
	encryptedPayload = append(append([]byte{}, iv...), ct...)

	recipients, err := wrapRecipients(w.recipients, fmk.Bytes())
	if err != nil {
		return err
	}

	doc := buildDocument(wrapped, filename, w.opts.CipherMethod, properties, origs, recipients, encryptedPayload)
	if _, err := w.w.Write([]byte(xml.Header)); err != nil {
		return errs.Wrap(errs.OutputStreamError, "writing XML header", err)
	}
	enc := xml.NewEncoder(w.w)
	if err := enc.Encode(doc); err != nil {
		return errs.Wrap(errs.OutputStreamError, "encoding CDoc1 document", err)
	}
	w.state = stateFinalized
	return nil
}

// assemblePayload returns the plaintext to encrypt, the MIME type
// describing it (a single file's mime, or a DDOC mime if there is more
// than one file), the Filename property for the single-file case, and the
// orig_file metadata entries for every queued file.
func (w *Writer) assemblePayload() (payload []byte, mime, filename string, origs []origFile, err error) {
	if len(w.files) == 0 {
		return nil, "", "", nil, errs.New(errs.InvalidParams, "CDoc1 document needs at least one file")
	}
	for i, f := range w.files {
		data := f.buf.Bytes()
		origs = append(origs, origFile{name: f.name, size: fmt.Sprint(len(data)), mime: "application/octet-stream", id: fmt.Sprintf("F%d", i)})
	}
	if len(w.files) == 1 {
		return w.files[0].buf.Bytes(), "application/octet-stream", w.files[0].name, origs, nil
	}
	ddocFiles := make([]ddocFile, 0, len(w.files))
	for _, f := range w.files {
		ddocFiles = append(ddocFiles, ddocFile{Name: f.name, Mime: "application/octet-stream", Data: f.buf.Bytes()})
	}
	raw, err := writeDDOC(ddocFiles)
	if err != nil {
		return nil, "", "", nil, err
	}
	return raw, mimeDDOC, "", origs, nil
}

func encryptPayload(method string, key, plaintext []byte) (iv, ciphertext []byte, err error) {
	spec := cipherMethods[method]
	if spec.gcm {
		iv = make([]byte, 12)
		if _, err := rand.Read(iv); err != nil {
			return nil, nil, errs.Wrap(errs.CryptoError, "generating GCM IV", err)
		}
		ct, err := crypto.AESGCMEncrypt(key, iv, nil, plaintext)
		if err != nil {
			return nil, nil, errs.Wrap(errs.CryptoError, "AES-GCM encrypt failed", err)
		}
		return iv, ct, nil
	}
	iv = make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, errs.Wrap(errs.CryptoError, "generating CBC IV", err)
	}
	ct, err := crypto.AESCBCEncrypt(key, iv, plaintext)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CryptoError, "AES-CBC encrypt failed", err)
	}
	return iv, ct, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrappedRecipient is the fully-computed form of one recipient's
// EncryptedKey block, ready for XML serialization.
type wrappedRecipient struct {
	label                             string
	certDER                           []byte
	method                            string
	ephemeralPub                      []byte
	algorithmID, partyUInfo, partyVInfo []byte
	concatDigestURI                   string
	encryptedFMK                      []byte
}

func wrapRecipients(descs []RecipientDescriptor, fmk []byte) ([]wrappedRecipient, error) {
	out := make([]wrappedRecipient, 0, len(descs))
	for _, d := range descs {
		if len(d.CertificateRSA) > 0 {
			pub, err := parseRSACert(d.CertificateRSA)
			if err != nil {
				return nil, err
			}
			encFMK, err := crypto.RSAEncrypt(pub, fmk, false)
			if err != nil {
				return nil, errs.Wrap(errs.CryptoError, "RSA-PKCS1v15 FMK wrap failed", err)
			}
			out = append(out, wrappedRecipient{label: d.Label, certDER: d.CertificateRSA, method: algRSA15, encryptedFMK: encFMK})
			continue
		}

		digestURI := d.ConcatDigestURI
		if digestURI == "" {
			digestURI = crypto.DigestURISHA256
		}
		digest, err := crypto.ConcatDigestByURI(digestURI)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidParams, "unsupported ConcatKDF digest", err)
		}
		kwLen := d.KWKeyLen
		if kwLen == 0 {
			kwLen = 32
		}
		kwMethod, err := kwMethodForLen(kwLen)
		if err != nil {
			return nil, err
		}

		recipientPub, err := parseECPublicKey(d.RecipientPubKey)
		if err != nil {
			return nil, err
		}
		ephemeralPriv, err := ecdh.P384().GenerateKey(rand.Reader)
		if err != nil {
			return nil, errs.Wrap(errs.CryptoError, "generating ephemeral ECDH key", err)
		}
		z, err := crypto.ECDHP384(ephemeralPriv, recipientPub)
		if err != nil {
			return nil, errs.Wrap(errs.CryptoError, "ECDH agreement failed", err)
		}
		algorithmID := []byte("CDOC1")
		partyUInfo := ephemeralPriv.PublicKey().Bytes()
		partyVInfo := d.RecipientPubKey
		kek, err := crypto.ConcatKDF(digest, z, algorithmID, partyUInfo, partyVInfo, kwLen)
		if err != nil {
			return nil, errs.Wrap(errs.CryptoError, "ConcatKDF failed", err)
		}
		encFMK, err := crypto.AESKWWrap(kek, fmk)
		if err != nil {
			return nil, errs.Wrap(errs.CryptoError, "AES-KeyWrap of FMK failed", err)
		}

		out = append(out, wrappedRecipient{
			label:           d.Label,
			certDER:         d.CertificateECDH,
			method:          kwMethod,
			ephemeralPub:    ephemeralPriv.PublicKey().Bytes(),
			algorithmID:     algorithmID,
			partyUInfo:      partyUInfo,
			partyVInfo:      partyVInfo,
			concatDigestURI: digestURI,
			encryptedFMK:    encFMK,
		})
	}
	return out, nil
}

func kwMethodForLen(l int) (string, error) {
	for uri, n := range kwMethods {
		if n == l {
			return uri, nil
		}
	}
	return "", errs.New(errs.InvalidParams, fmt.Sprintf("no AES-KW method for a %d-byte key", l))
}

func parseRSACert(der []byte) (*rsa.PublicKey, error) {
	pub, err := parseCertRSAPublicKey(der)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParams, "parsing recipient certificate", err)
	}
	return pub, nil
}

func bin2hex(b []byte) string {
	if len(b) > 0 && b[0]&0x80 != 0 {
		return hex.EncodeToString(append([]byte{0x00}, b...))
	}
	return hex.EncodeToString(b)
}

// buildDocument assembles the in-memory XML tree for a finished CDoc1
// document, mirroring the element order CDoc1Reader's constructor pass
// expects.
func buildDocument(mime, filename, method string, properties map[string]string, origs []origFile, recipients []wrappedRecipient, payload []byte) xmlEncryptedData {
	doc := xmlEncryptedData{
		XMLNS:        xmlencNS,
		MimeType:     mime,
		EncryptionMethod: xmlAlgorithm{Algorithm: method},
	}
	if filename != "" {
		properties["Filename"] = filename
	}
	for _, o := range origs {
		doc.Properties.Items = append(doc.Properties.Items, xmlEncryptionProperty{
			Name:  "orig_file",
			Value: fmt.Sprintf("%s|%s|%s|%s", o.name, o.size, o.mime, o.id),
		})
	}
	for name, val := range properties {
		doc.Properties.Items = append(doc.Properties.Items, xmlEncryptionProperty{Name: name, Value: val})
	}
	for _, r := range recipients {
		key := xmlEncryptedKey{Recipient: r.label, EncryptionMethod: xmlAlgorithm{Algorithm: r.method}}
		if len(r.certDER) > 0 {
			key.KeyInfo.X509Data = &xmlX509Data{X509Certificate: base64.StdEncoding.EncodeToString(r.certDER)}
		}
		if len(r.ephemeralPub) > 0 {
			key.KeyInfo.AgreementMethod = &xmlAgreementMethod{
				KeyDerivationMethod: xmlKeyDerivationMethod{
					ConcatKDFParams: xmlConcatKDFParams{
						AlgorithmID: bin2hex(r.algorithmID),
						PartyUInfo:  bin2hex(r.partyUInfo),
						PartyVInfo:  bin2hex(r.partyVInfo),
						DigestMethod: xmlAlgorithm{Algorithm: r.concatDigestURI},
					},
				},
				OriginatorKeyInfo: xmlOriginatorKeyInfo{PublicKey: base64.StdEncoding.EncodeToString(r.ephemeralPub)},
			}
		}
		key.CipherData.CipherValue = base64.StdEncoding.EncodeToString(r.encryptedFMK)
		doc.KeyInfo.EncryptedKeys = append(doc.KeyInfo.EncryptedKeys, key)
	}
	doc.CipherData.CipherValue = base64.StdEncoding.EncodeToString(payload)
	return doc
}
