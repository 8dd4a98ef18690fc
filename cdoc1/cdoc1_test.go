package cdoc1

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/errs"
)

func selfSignedRSACert(t *testing.T, priv *rsa.PrivateKey) []byte {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "rsa-test-recipient"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDataEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("creating self-signed RSA certificate: %v", err)
	}
	return der
}

func readAll(t *testing.T, r *Reader) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for {
		name, size, err := r.NextFile()
		if errs.CodeOf(err) == errs.EndOfStream {
			break
		}
		if err != nil {
			t.Fatalf("NextFile: %v", err)
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			t.Fatalf("reading file %q: %v", name, err)
		}
		out[name] = buf
	}
	return out
}

func TestRSARoundTripCBC(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	certDER := selfSignedRSACert(t, priv)

	var doc bytes.Buffer
	w := NewWriter(&doc, WriterOptions{CipherMethod: algAES256CBC})
	if err := w.AddRecipient(RecipientDescriptor{Label: "r1", CertificateRSA: certDER}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := w.AddFile("greeting.txt", 0); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if _, err := w.Write([]byte("hello, cdoc1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	cb := backend.NewDefaultCryptoBackend().WithRSAKey("r1", priv)
	r, err := NewReader(bytes.NewReader(doc.Bytes()), cb)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(r.Locks()) != 1 {
		t.Fatalf("expected one lock, got %d", len(r.Locks()))
	}
	fmk, err := r.GetFMK(r.Locks()[0])
	if err != nil {
		t.Fatalf("GetFMK: %v", err)
	}
	if err := r.BeginDecryption(fmk); err != nil {
		t.Fatalf("BeginDecryption: %v", err)
	}
	files := readAll(t, r)
	if string(files["greeting.txt"]) != "hello, cdoc1" {
		t.Fatalf("unexpected contents: %q", files["greeting.txt"])
	}
	if err := r.FinishDecryption(); err != nil {
		t.Fatalf("FinishDecryption: %v", err)
	}
}

func TestECDHRoundTripGCM(t *testing.T) {
	curve := ecdh.P384()
	recipientPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating recipient key: %v", err)
	}

	var doc bytes.Buffer
	w := NewWriter(&doc, WriterOptions{CipherMethod: algAES256GCM})
	if err := w.AddRecipient(RecipientDescriptor{
		Label:           "e1",
		RecipientPubKey: recipientPriv.PublicKey().Bytes(),
		KWKeyLen:        32,
	}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := w.AddFile("data.bin", 0); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	payload := bytes.Repeat([]byte("x"), 4096)
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	cb := backend.NewDefaultCryptoBackend().WithECDHKey("e1", recipientPriv)
	r, err := NewReader(bytes.NewReader(doc.Bytes()), cb)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	fmk, err := r.GetFMK(r.Locks()[0])
	if err != nil {
		t.Fatalf("GetFMK: %v", err)
	}
	if err := r.BeginDecryption(fmk); err != nil {
		t.Fatalf("BeginDecryption: %v", err)
	}
	files := readAll(t, r)
	if !bytes.Equal(files["data.bin"], payload) {
		t.Fatalf("round-tripped payload does not match")
	}
	r.FinishDecryption()
}

func TestECDHWrongKeyFailsDecryption(t *testing.T) {
	curve := ecdh.P384()
	recipientPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating recipient key: %v", err)
	}
	otherPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating other key: %v", err)
	}

	var doc bytes.Buffer
	w := NewWriter(&doc, WriterOptions{})
	if err := w.AddRecipient(RecipientDescriptor{Label: "e1", RecipientPubKey: recipientPriv.PublicKey().Bytes()}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := w.AddFile("f.txt", 0); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if _, err := w.Write([]byte("secret")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	cb := backend.NewDefaultCryptoBackend().WithECDHKey("e1", otherPriv)
	r, err := NewReader(bytes.NewReader(doc.Bytes()), cb)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	// The wrong ECDH key derives a wrong KEK; AES-KeyWrap's own integrity
	// check (the fixed IV it verifies on unwrap) catches this inside
	// GetFMK itself, before BeginDecryption ever runs. CDoc1 has no header
	// HMAC (that is CDoc2-only, invariant (iv)), so AES-KW's check is the
	// only thing standing between a wrong key and garbage FMK bytes here.
	if _, err := r.GetFMK(r.Locks()[0]); errs.CodeOf(err) != errs.CryptoError {
		t.Fatalf("expected CryptoError unwrapping the FMK with the wrong ECDH key, got %v", err)
	}
}

func TestDDOCMultiFileRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	certDER := selfSignedRSACert(t, priv)

	var doc bytes.Buffer
	w := NewWriter(&doc, WriterOptions{})
	if err := w.AddRecipient(RecipientDescriptor{Label: "r1", CertificateRSA: certDER}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := w.AddFile("a.txt", 0); err != nil {
		t.Fatalf("AddFile a.txt: %v", err)
	}
	if _, err := w.Write([]byte("A")); err != nil {
		t.Fatalf("Write a.txt: %v", err)
	}
	if err := w.AddFile("b/c.txt", 0); err != nil {
		t.Fatalf("AddFile b/c.txt: %v", err)
	}
	if _, err := w.Write([]byte("BC")); err != nil {
		t.Fatalf("Write b/c.txt: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	cb := backend.NewDefaultCryptoBackend().WithRSAKey("r1", priv)
	r, err := NewReader(bytes.NewReader(doc.Bytes()), cb)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	fmk, err := r.GetFMK(r.Locks()[0])
	if err != nil {
		t.Fatalf("GetFMK: %v", err)
	}
	if err := r.BeginDecryption(fmk); err != nil {
		t.Fatalf("BeginDecryption: %v", err)
	}
	files := readAll(t, r)
	if string(files["a.txt"]) != "A" || string(files["b/c.txt"]) != "BC" {
		t.Fatalf("unexpected DDOC contents: %+v", files)
	}
	if err := r.FinishDecryption(); err != nil {
		t.Fatalf("FinishDecryption: %v", err)
	}
}

func TestTamperedPayloadFailsCBCUnpad(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	certDER := selfSignedRSACert(t, priv)

	var doc bytes.Buffer
	w := NewWriter(&doc, WriterOptions{CipherMethod: algAES256CBC})
	if err := w.AddRecipient(RecipientDescriptor{Label: "r1", CertificateRSA: certDER}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := w.AddFile("f.txt", 0); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if _, err := w.Write([]byte("a full block of plaintext data!")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	tampered := doc.Bytes()
	idx := bytes.LastIndex(tampered, []byte("<CipherValue>"))
	if idx < 0 {
		t.Fatal("could not locate payload CipherValue in output")
	}
	start := idx + len("<CipherValue>")
	end := start + bytes.Index(tampered[start:], []byte("</CipherValue>"))
	raw, err := base64.StdEncoding.DecodeString(string(tampered[start:end]))
	if err != nil {
		t.Fatalf("decoding payload CipherValue: %v", err)
	}
	// raw is IV || ciphertext. Flipping the last byte of the next-to-last
	// ciphertext block flips the same byte of the final plaintext block,
	// which is the PKCS#7 padding length, so unpadding must fail.
	raw[len(raw)-17] ^= 0x01
	copy(tampered[start:end], base64.StdEncoding.EncodeToString(raw))

	cb := backend.NewDefaultCryptoBackend().WithRSAKey("r1", priv)
	r, err := NewReader(bytes.NewReader(tampered), cb)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	fmk, err := r.GetFMK(r.Locks()[0])
	if err != nil {
		t.Fatalf("GetFMK: %v", err)
	}
	if err := r.BeginDecryption(fmk); err == nil {
		t.Fatal("expected a decoding or crypto error from tampered base64/ciphertext")
	}
}

func TestWorkflowViolations(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	certDER := selfSignedRSACert(t, priv)

	var doc bytes.Buffer
	w := NewWriter(&doc, WriterOptions{})
	if err := w.AddRecipient(RecipientDescriptor{Label: "r1", CertificateRSA: certDER}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := w.AddFile("f.txt", 0); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := w.Finish(); errs.CodeOf(err) != errs.WorkflowError {
		t.Fatalf("expected WorkflowError calling Finish twice, got %v", err)
	}

	cb := backend.NewDefaultCryptoBackend().WithRSAKey("r1", priv)
	r, err := NewReader(bytes.NewReader(doc.Bytes()), cb)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, _, err := r.NextFile(); errs.CodeOf(err) != errs.WorkflowError {
		t.Fatalf("expected WorkflowError calling NextFile before BeginDecryption, got %v", err)
	}
}
