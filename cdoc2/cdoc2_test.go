package cdoc2

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/crypto"
	"github.com/cdoc-project/cdoc/errs"
	"github.com/cdoc-project/cdoc/internal/flatheader"
	"github.com/cdoc-project/cdoc/lock"
)

func writeOneFile(t *testing.T, w *Writer, name string, content []byte) {
	t.Helper()
	if err := w.AddFile(name, int64(len(content))); err != nil {
		t.Fatalf("AddFile(%q): %v", name, err)
	}
	if len(content) > 0 {
		if _, err := w.Write(content); err != nil {
			t.Fatalf("Write(%q): %v", name, err)
		}
	}
}

func readAllFiles(t *testing.T, r *Reader) map[string][]byte {
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

func TestSymmetricRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	cb := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("pre-shared-secret"))

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "s1"}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("hello, world"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	r, err := NewReader(f, cb, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	locks := r.Locks()
	if len(locks) != 1 || locks[0].Kind != lock.CDoc2Symmetric {
		t.Fatalf("unexpected locks: %+v", locks)
	}

	fmk, err := r.GetFMK(locks[0])
	if err != nil {
		t.Fatalf("GetFMK: %v", err)
	}
	if err := r.BeginDecryption(fmk); err != nil {
		t.Fatalf("BeginDecryption: %v", err)
	}
	files := readAllFiles(t, r)
	if string(files["a.txt"]) != "hello, world" {
		t.Fatalf("unexpected file contents: %q", files["a.txt"])
	}
	if err := r.FinishDecryption(); err != nil {
		t.Fatalf("FinishDecryption: %v", err)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	cb := backend.NewDefaultCryptoBackend().WithSecret("pw", []byte("correct horse battery staple"))

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Password, Label: "pw", KDFIterCount: 100000}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "secret.txt", []byte("classified"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	r, err := NewReader(f, cb, nil)
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
	files := readAllFiles(t, r)
	if string(files["secret.txt"]) != "classified" {
		t.Fatalf("unexpected contents: %q", files["secret.txt"])
	}
	if err := r.FinishDecryption(); err != nil {
		t.Fatalf("FinishDecryption: %v", err)
	}
}

func TestRSARoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}

	cb := backend.NewDefaultCryptoBackend().WithRSAKey("r1", priv)

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2PublicKeyRSA, Label: "r1", RecipientPublicKeyRSA: pubDER}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "report.txt", []byte("quarterly numbers"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, cb, nil)
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
	files := readAllFiles(t, r)
	if string(files["report.txt"]) != "quarterly numbers" {
		t.Fatalf("unexpected contents: %q", files["report.txt"])
	}
	if err := r.FinishDecryption(); err != nil {
		t.Fatalf("FinishDecryption: %v", err)
	}
}

func TestECCRoundTripAndWrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	curve := ecdh.P384()
	recipientPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate recipient key: %v", err)
	}
	otherPriv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}
	recipientPub := recipientPriv.PublicKey().Bytes()

	cb := backend.NewDefaultCryptoBackend().WithECDHKey("e1", recipientPriv)

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2PublicKeyECC, Label: "e1", RecipientPublicKeyECC: recipientPub}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("A"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, cb, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	fmk, err := r.GetFMK(r.Locks()[0])
	if err != nil {
		t.Fatalf("GetFMK with the right key should succeed: %v", err)
	}
	if err := r.BeginDecryption(fmk); err != nil {
		t.Fatalf("BeginDecryption: %v", err)
	}
	files := readAllFiles(t, r)
	if string(files["a.txt"]) != "A" {
		t.Fatalf("unexpected contents: %q", files["a.txt"])
	}
	r.FinishDecryption()

	// Same lock, wrong ECDH private key registered under the same label:
	// derivation proceeds but must not recover the real FMK, and the
	// header HMAC check must catch it.
	f2, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen output: %v", err)
	}
	defer f2.Close()
	cbWrong := backend.NewDefaultCryptoBackend().WithECDHKey("e1", otherPriv)
	r2, err := NewReader(f2, cbWrong, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := r2.GetFMK(r2.Locks()[0]); errs.CodeOf(err) != errs.HashMismatch {
		t.Fatalf("expected HashMismatch with the wrong key, got %v", err)
	}
}

func TestMultiRecipientAgreement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	cb := backend.NewDefaultCryptoBackend().
		WithSecret("sym", []byte("secret-one")).
		WithSecret("pw", []byte("secret-two"))

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "sym"}); err != nil {
		t.Fatalf("AddRecipient sym: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Password, Label: "pw", KDFIterCount: 100000}); err != nil {
		t.Fatalf("AddRecipient pw: %v", err)
	}
	writeOneFile(t, w, "shared.txt", []byte("everyone sees this"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	for _, label := range []string{"sym", "pw"} {
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		r, err := NewReader(f, cb, nil)
		if err != nil {
			f.Close()
			t.Fatalf("NewReader: %v", err)
		}
		l, ok := r.locks.ByLabel(label)
		if !ok {
			f.Close()
			t.Fatalf("missing lock for label %q", label)
		}
		fmk, err := r.GetFMK(l)
		if err != nil {
			f.Close()
			t.Fatalf("GetFMK(%q): %v", label, err)
		}
		if err := r.BeginDecryption(fmk); err != nil {
			f.Close()
			t.Fatalf("BeginDecryption(%q): %v", label, err)
		}
		files := readAllFiles(t, r)
		if string(files["shared.txt"]) != "everyone sees this" {
			f.Close()
			t.Fatalf("lock %q produced wrong contents: %q", label, files["shared.txt"])
		}
		r.FinishDecryption()
		f.Close()
	}
}

func TestZeroLengthPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	cb := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("secret"))
	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "s1"}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish with no files: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, cb, nil)
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
	if _, _, err := r.NextFile(); errs.CodeOf(err) != errs.EndOfStream {
		t.Fatalf("expected EndOfStream for an empty archive, got %v", err)
	}
	if err := r.FinishDecryption(); err != nil {
		t.Fatalf("FinishDecryption: %v", err)
	}
}

func TestHeaderTamperCausesHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	cb := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("secret"))
	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "s1"}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("A"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	// Flip one bit in the last byte of header_bytes. The FlatBuffer builder
	// fills its buffer from the back and writes the symmetric capsule's
	// salt first, so that byte is salt data, not an offset or vtable.
	headerLen := int(raw[6])<<24 | int(raw[7])<<16 | int(raw[8])<<8 | int(raw[9])
	raw[len(Label)+4+headerLen-1] ^= 0x01
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("rewriting tampered output: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, cb, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(r.Locks()) == 0 {
		t.Skip("tampered byte happened to corrupt FlatBuffer structure enough to drop the lock; not a useful run")
	}
	if _, err := r.GetFMK(r.Locks()[0]); errs.CodeOf(err) != errs.HashMismatch {
		t.Fatalf("expected HashMismatch for a tampered header, got %v", err)
	}
}

// TestGetFMKFailureLeavesNoSecret checks invariant 8: a failed GetFMK call
// (wrong secret entirely, so the header HMAC can never match) returns a
// zero-value Secret rather than one still holding a derived key.
func TestGetFMKFailureLeavesNoSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	cb := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("secret"))
	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "s1"}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("A"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	wrongCB := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("totally-different"))
	r, err := NewReader(f, wrongCB, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	fmk, err := r.GetFMK(r.Locks()[0])
	if errs.CodeOf(err) != errs.HashMismatch {
		t.Fatalf("expected HashMismatch for the wrong secret, got %v", err)
	}
	if fmk.Len() != 0 {
		t.Fatalf("expected a zero-value Secret on failure, got %d bytes", fmk.Len())
	}
}

func TestPayloadTamperFailsAuthentication(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")

	cb := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("secret"))
	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "s1"}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("hello there, this is a somewhat longer payload"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	raw[len(raw)-20] ^= 0x01 // flip a bit inside the ciphertext, not the tag
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("rewriting tampered output: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, cb, nil)
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
	// Draining the stream is what surfaces the AEAD failure; reading a
	// TAR entry may or may not succeed before Finalize runs, but
	// FinishDecryption must always catch it.
	for {
		if _, _, err := r.NextFile(); err != nil {
			break
		}
		io.Copy(io.Discard, r)
	}
	if err := r.FinishDecryption(); errs.CodeOf(err) != errs.CryptoError {
		t.Fatalf("expected CryptoError for a tampered payload, got %v", err)
	}
}

func TestWriterWorkflowViolations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")
	cb := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("secret"))

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("A"))
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "s1"}); errs.CodeOf(err) != errs.WorkflowError {
		t.Fatalf("expected WorkflowError adding a recipient after the header locked, got %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := w.Write([]byte("x")); errs.CodeOf(err) != errs.WorkflowError {
		t.Fatalf("expected WorkflowError writing after Finish, got %v", err)
	}
}

func TestReaderWorkflowViolations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")
	cb := backend.NewDefaultCryptoBackend().WithSecret("s1", []byte("secret"))

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "s1"}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("A"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, cb, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, _, err := r.NextFile(); errs.CodeOf(err) != errs.WorkflowError {
		t.Fatalf("expected WorkflowError calling NextFile before BeginDecryption, got %v", err)
	}
	fmk, err := r.GetFMK(r.Locks()[0])
	if err != nil {
		t.Fatalf("GetFMK: %v", err)
	}
	if err := r.FinishDecryption(); errs.CodeOf(err) != errs.WorkflowError {
		t.Fatalf("expected WorkflowError calling FinishDecryption before BeginDecryption, got %v", err)
	}
	if err := r.BeginDecryption(fmk); err != nil {
		t.Fatalf("BeginDecryption: %v", err)
	}
}

func TestUnknownCapsuleKindIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.cdoc")
	cb := backend.NewDefaultCryptoBackend().WithSecret("good", []byte("secret"))

	w, err := NewWriter(path, cb)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	// A real writer never emits CapsuleNone, so this file carries only the
	// valid lock; the hand-built header below carries the unknown kind.
	if err := w.AddRecipient(lock.Descriptor{Kind: lock.CDoc2Symmetric, Label: "good"}); err != nil {
		t.Fatalf("AddRecipient: %v", err)
	}
	writeOneFile(t, w, "a.txt", []byte("A"))
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, cb, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(r.Locks()) != 1 {
		t.Fatalf("expected exactly the one valid lock, got %d", len(r.Locks()))
	}

	// Exercise decodeLocks directly on a header whose first recipient has
	// no capsule kind (CapsuleNone): it must be skipped, not abort decoding.
	hb := flatheader.NewHeaderBuilder()
	hb.AddRecipient(flatheader.RecipientBuilder{KeyLabel: "unknown", EncryptedFMK: make([]byte, 32), Kind: flatheader.CapsuleNone})
	hb.AddRecipient(flatheader.RecipientBuilder{KeyLabel: "good", EncryptedFMK: make([]byte, 32), Kind: flatheader.CapsuleSymmetricKey, Salt: make([]byte, 32)})
	hdr, err := flatheader.DecodeHeader(hb.Finish())
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	locks, err := decodeLocks(hdr)
	if err != nil {
		t.Fatalf("decodeLocks: %v", err)
	}
	if len(locks) != 1 || locks[0].Label != "good" {
		t.Fatalf("expected only the valid lock to survive decoding, got %+v", locks)
	}
}

// fakeKeyServer is a minimal backend.NetworkBackend that hands back a
// fixed blob of key material, standing in for a real fetch_key round trip.
type fakeKeyServer struct {
	keyMaterial []byte
}

func (f *fakeKeyServer) FetchKey(keyserverID, transactionID string) ([]byte, error) {
	return f.keyMaterial, nil
}
func (f *fakeKeyServer) GetClientTLSCertificate() ([]byte, error)   { return nil, nil }
func (f *fakeKeyServer) GetPeerTLSCertificates() ([][]byte, error) { return nil, nil }
func (f *fakeKeyServer) SignTLS(alg string, digest []byte) ([]byte, error) { return nil, nil }

// TestServerLockRSAUnwrapsFetchedKEK exercises unwrapFMK's CDoc2Server/
// PKRSA path directly: the key server hands back the RSA-OAEP-encrypted
// KEK as key_material (as CDoc2Reader::getFMK's pk_type == RSA branch
// does in the original implementation), and the recipient's RSA private
// key unwraps it the same way a CDoc2PublicKeyRSA lock would.
func TestServerLockRSAUnwrapsFetchedKEK(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	kek := make([]byte, KeyLen)
	if _, err := rand.Read(kek); err != nil {
		t.Fatalf("generating KEK: %v", err)
	}
	encryptedKEK, err := crypto.RSAEncrypt(&priv.PublicKey, kek, true)
	if err != nil {
		t.Fatalf("RSAEncrypt: %v", err)
	}
	fmk := make([]byte, KeyLen)
	if _, err := rand.Read(fmk); err != nil {
		t.Fatalf("generating FMK: %v", err)
	}
	encryptedFMK, err := crypto.XOR(kek, fmk)
	if err != nil {
		t.Fatalf("XOR: %v", err)
	}

	l, err := lock.NewCDoc2Server("r1", lock.PKRSA, nil, "ks1", "tx1", encryptedFMK)
	if err != nil {
		t.Fatalf("NewCDoc2Server: %v", err)
	}

	cb := backend.NewDefaultCryptoBackend().WithRSAKey("r1", priv)
	nb := &fakeKeyServer{keyMaterial: encryptedKEK}

	got, err := unwrapFMK(l, cb, nb)
	if err != nil {
		t.Fatalf("unwrapFMK: %v", err)
	}
	if string(got.Bytes()) != string(fmk) {
		t.Fatalf("recovered FMK does not match: got %x want %x", got.Bytes(), fmk)
	}

	// Wrong RSA key registered under the same label must fail cleanly
	// rather than silently returning NotImplemented.
	wrongPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating wrong RSA key: %v", err)
	}
	cbWrong := backend.NewDefaultCryptoBackend().WithRSAKey("r1", wrongPriv)
	if _, err := unwrapFMK(l, cbWrong, nb); err == nil {
		t.Fatal("expected an error unwrapping with the wrong RSA key")
	}
}
