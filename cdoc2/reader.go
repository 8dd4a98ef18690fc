package cdoc2

import (
	"crypto/hmac"
	"encoding/binary"
	"io"
	"log/slog"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/crypto"
	"github.com/cdoc-project/cdoc/errs"
	"github.com/cdoc-project/cdoc/internal/flatheader"
	"github.com/cdoc-project/cdoc/lock"
	"github.com/cdoc-project/cdoc/stream"
)

// readerState tracks the CDoc2 reader's position in the Parsed -> FmkKnown
// -> Streaming -> Done state machine (spec.md §4.6). Calls out of order
// fail with WorkflowError rather than mutating state.
type readerState int

const (
	stateParsed readerState = iota
	stateFmkKnown
	stateStreaming
	stateDone
)

// Reader implements the CDoc2 pull-decryption API: construction parses the
// header and lock set, GetFMK recovers and authenticates the file master
// key for one lock, and BeginDecryption/NextFile/Read/FinishDecryption
// drive the TAR/deflate/AEAD payload pipeline.
type Reader struct {
	cb backend.CryptoBackend
	nb backend.NetworkBackend

	r io.ReadSeeker

	headerBytes []byte
	headerHMAC  []byte
	payloadOff  int64
	locks       lock.Set

	state readerState
	fmk   crypto.Secret
	hhk   []byte

	tagged *stream.TaggedSource
	cipher *stream.CipherSource
	z      *stream.ZSource
	tar    *stream.TarSource
}

// NewReader parses the LABEL, header_len, header_bytes, and header_hmac
// from the start of r and builds the reader's lock set. NewReader seeks r
// to offset 0 itself and checks the 6-byte Label there, so r's current
// position does not matter.
func NewReader(r io.ReadSeeker, cb backend.CryptoBackend, nb backend.NetworkBackend) (*Reader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Wrap(errs.InputStreamError, "seeking to start of CDoc2 stream", err)
	}
	label := make([]byte, len(Label))
	if _, err := io.ReadFull(r, label); err != nil {
		return nil, errs.Wrap(errs.InputStreamError, "reading CDoc2 label", err)
	}
	for i := range Label {
		if label[i] != Label[i] {
			return nil, errs.New(errs.InvalidParams, "not a CDoc2 stream: bad label")
		}
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, errs.Wrap(errs.InputStreamError, "reading header_len", err)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errs.Wrap(errs.InputStreamError, "reading header_bytes", err)
	}

	headerHMAC := make([]byte, HMACLen)
	if _, err := io.ReadFull(r, headerHMAC); err != nil {
		return nil, errs.Wrap(errs.InputStreamError, "reading header_hmac", err)
	}

	payloadOff, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errs.Wrap(errs.InputStreamError, "locating payload offset", err)
	}

	hdr, err := flatheader.DecodeHeader(headerBytes)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParams, "CDoc2 header failed verification", err)
	}

	locks, err := decodeLocks(hdr)
	if err != nil {
		return nil, err
	}

	return &Reader{
		cb:          cb,
		nb:          nb,
		r:           r,
		headerBytes: headerBytes,
		headerHMAC:  headerHMAC,
		payloadOff:  payloadOff,
		locks:       locks,
		state:       stateParsed,
	}, nil
}

// Locks returns every lock decoded from the header, in header order.
// Locks whose capsule kind or curve this reader does not recognize are
// omitted (logged at Warn level); a container with no recognizable lock
// left is still returned rather than rejected.
func (rd *Reader) Locks() []lock.Lock { return rd.locks }

// DecryptionLockForCert is not meaningful for CDoc2: no lock variant
// carries a certificate. Present to satisfy the cdoc.Reader interface.
func (rd *Reader) DecryptionLockForCert(cert []byte) (lock.Lock, bool) {
	return lock.Lock{}, false
}

// GetFMK recovers the file master key for l and verifies it against the
// header HMAC before returning it. A mismatch (wrong key, or any bit of
// header_bytes flipped) returns HashMismatch.
func (rd *Reader) GetFMK(l lock.Lock) (crypto.Secret, error) {
	fmk, err := unwrapFMK(l, rd.cb, rd.nb)
	if err != nil {
		return crypto.Secret{}, err
	}

	hhk, err := deriveHHK(fmk.Bytes())
	if err != nil {
		fmk.Zero()
		return crypto.Secret{}, err
	}
	want := crypto.HMACSHA256(hhk, rd.headerBytes)
	if !hmac.Equal(want, rd.headerHMAC) {
		fmk.Zero()
		return crypto.Secret{}, errs.New(errs.HashMismatch, "header HMAC does not match stored tag")
	}

	rd.fmk = fmk
	rd.hhk = hhk
	rd.state = stateFmkKnown
	return fmk, nil
}

// BeginDecryption seeks to the payload's nonce, initializes the AEAD
// cipher, and composes the TaggedSource -> CipherSource -> ZSource ->
// TarSource pipeline. Returns WorkflowError unless a GetFMK call has
// already succeeded.
func (rd *Reader) BeginDecryption(fmk crypto.Secret) error {
	if rd.state != stateFmkKnown {
		return errs.New(errs.WorkflowError, "BeginDecryption called out of order")
	}

	if _, err := rd.r.Seek(rd.payloadOff, io.SeekStart); err != nil {
		return errs.Wrap(errs.InputStreamError, "seeking to payload", err)
	}
	nonce := make([]byte, NonceLen)
	if _, err := io.ReadFull(rd.r, nonce); err != nil {
		return errs.Wrap(errs.InputStreamError, "reading payload nonce", err)
	}

	cek, err := deriveCEK(fmk.Bytes())
	if err != nil {
		return err
	}
	cipher, err := crypto.NewChaCha20Poly1305(cek, nonce, false)
	if err != nil {
		return errs.Wrap(errs.CryptoError, "initializing payload cipher", err)
	}
	aad := append(append([]byte(aadPrefix), rd.headerBytes...), rd.headerHMAC...)
	if err := cipher.UpdateAAD(aad); err != nil {
		return errs.Wrap(errs.CryptoError, "setting payload AAD", err)
	}

	rd.tagged = stream.NewTaggedSource(rd.r, TagLen)
	rd.cipher = stream.NewCipherSource(rd.tagged, cipher)
	z, err := stream.NewZSource(rd.cipher)
	if err != nil {
		return errs.Wrap(errs.InputStreamError, "initializing zlib stream", err)
	}
	rd.z = z
	rd.tar = stream.NewTarSource(rd.z)

	rd.state = stateStreaming
	return nil
}

// NextFile advances to the next regular file in the payload's TAR stream,
// returning its name and size. Returns EndOfStream once the archive is
// exhausted.
func (rd *Reader) NextFile() (string, int64, error) {
	if rd.state != stateStreaming {
		return "", 0, errs.New(errs.WorkflowError, "NextFile called out of order")
	}
	name, size, err := rd.tar.Next()
	if err != nil {
		if err == io.EOF {
			return "", 0, errs.Wrap(errs.EndOfStream, "no more files", io.EOF)
		}
		return "", 0, errs.Wrap(errs.InputStreamError, "reading TAR entry", err)
	}
	return name, size, nil
}

// Read reads from the current file's body, as established by the most
// recent NextFile call.
func (rd *Reader) Read(p []byte) (int, error) {
	if rd.state != stateStreaming {
		return 0, errs.New(errs.WorkflowError, "Read called out of order")
	}
	return rd.tar.Read(p)
}

// FinishDecryption drains any remaining cipher output to force AEAD tag
// verification, and warns if the zlib stream had trailing garbage past
// its own end-of-stream marker.
func (rd *Reader) FinishDecryption() error {
	if rd.state != stateStreaming {
		return errs.New(errs.WorkflowError, "FinishDecryption called out of order")
	}
	buf := make([]byte, 4096)
	for {
		_, err := rd.cipher.Read(buf)
		if err != nil {
			if err != io.EOF {
				return errs.Wrap(errs.CryptoError, "payload authentication failed", err)
			}
			break
		}
	}
	if rd.z.ExtraData() {
		slog.Warn("trailing garbage after deflate end-of-stream")
	}
	if rd.fmk.Len() > 0 {
		rd.fmk.Zero()
	}
	rd.state = stateDone
	return nil
}

// decodeLocks walks the decoded FlatBuffer header's recipients vector and
// builds a lock.Set, skipping (with a Warn log) any recipient whose
// capsule kind or curve is not recognized, per spec.md §4.6.
func decodeLocks(hdr *flatheader.Header) (lock.Set, error) {
	var locks lock.Set
	n := hdr.RecipientsLength()
	for i := 0; i < n; i++ {
		var rcpt flatheader.Recipient
		if !hdr.Recipients(&rcpt, i) {
			continue
		}
		l, ok, err := decodeRecipient(&rcpt)
		if err != nil {
			slog.Warn("skipping malformed recipient", "error", err)
			continue
		}
		if !ok {
			continue
		}
		locks = append(locks, l)
	}
	return locks, nil
}

func decodeRecipient(rcpt *flatheader.Recipient) (lock.Lock, bool, error) {
	label := rcpt.KeyLabel()
	encryptedFMK := rcpt.EncryptedFMK()

	switch rcpt.CapsuleType() {
	case flatheader.CapsuleECCPublicKey:
		var tab flatbuffers.Table
		if !rcpt.Capsule(&tab) {
			return lock.Lock{}, false, nil
		}
		var ecc flatheader.ECCPublicKeyCapsule
		ecc.Init(tab.Bytes, tab.Pos)
		if ecc.Curve() != flatheader.CurveSECP384R1 {
			slog.Warn("skipping recipient with unsupported curve", "label", label)
			return lock.Lock{}, false, nil
		}
		l, err := lock.NewCDoc2PublicKeyECC(label, ecc.RecipientPublicKey(), ecc.SenderPublicKey(), encryptedFMK)
		if err != nil {
			return lock.Lock{}, false, err
		}
		return l, true, nil

	case flatheader.CapsuleRSAPublicKey:
		var tab flatbuffers.Table
		if !rcpt.Capsule(&tab) {
			return lock.Lock{}, false, nil
		}
		var rsaCap flatheader.RSAPublicKeyCapsule
		rsaCap.Init(tab.Bytes, tab.Pos)
		l, err := lock.NewCDoc2PublicKeyRSA(label, rsaCap.RecipientPublicKey(), rsaCap.EncryptedKEK(), encryptedFMK)
		if err != nil {
			return lock.Lock{}, false, err
		}
		return l, true, nil

	case flatheader.CapsuleKeyServer:
		var tab flatbuffers.Table
		if !rcpt.Capsule(&tab) {
			return lock.Lock{}, false, nil
		}
		var ks flatheader.KeyServerCapsule
		ks.Init(tab.Bytes, tab.Pos)

		var details flatbuffers.Table
		if !ks.KeyDetails(&details) {
			slog.Warn("skipping key-server recipient with no key details", "label", label)
			return lock.Lock{}, false, nil
		}

		switch ks.KeyDetailsType() {
		case flatheader.KeyDetailsECC:
			var eccDetails flatheader.ECCServerKeyDetails
			eccDetails.Init(details.Bytes, details.Pos)
			if eccDetails.Curve() != flatheader.CurveSECP384R1 {
				slog.Warn("skipping key-server recipient with unsupported curve", "label", label)
				return lock.Lock{}, false, nil
			}
			l, err := lock.NewCDoc2Server(label, lock.PKECC, eccDetails.RecipientPublicKey(), ks.KeyserverID(), ks.TransactionID(), encryptedFMK)
			if err != nil {
				return lock.Lock{}, false, err
			}
			return l, true, nil
		case flatheader.KeyDetailsRSA:
			var rsaDetails flatheader.RSAServerKeyDetails
			rsaDetails.Init(details.Bytes, details.Pos)
			l, err := lock.NewCDoc2Server(label, lock.PKRSA, rsaDetails.RecipientPublicKey(), ks.KeyserverID(), ks.TransactionID(), encryptedFMK)
			if err != nil {
				return lock.Lock{}, false, err
			}
			return l, true, nil
		default:
			slog.Warn("skipping key-server recipient with unknown key details kind", "label", label)
			return lock.Lock{}, false, nil
		}

	case flatheader.CapsuleSymmetricKey:
		var tab flatbuffers.Table
		if !rcpt.Capsule(&tab) {
			return lock.Lock{}, false, nil
		}
		var sym flatheader.SymmetricKeyCapsule
		sym.Init(tab.Bytes, tab.Pos)
		l, err := lock.NewCDoc2Symmetric(label, sym.Salt(), encryptedFMK)
		if err != nil {
			return lock.Lock{}, false, err
		}
		return l, true, nil

	case flatheader.CapsulePBKDF2:
		var tab flatbuffers.Table
		if !rcpt.Capsule(&tab) {
			return lock.Lock{}, false, nil
		}
		var pb flatheader.PBKDF2Capsule
		pb.Init(tab.Bytes, tab.Pos)
		l, err := lock.NewCDoc2Password(label, pb.Salt(), pb.PasswordSalt(), int(pb.KDFIterations()), encryptedFMK)
		if err != nil {
			return lock.Lock{}, false, err
		}
		return l, true, nil

	default:
		slog.Warn("skipping recipient with unknown capsule kind", "label", label)
		return lock.Lock{}, false, nil
	}
}
