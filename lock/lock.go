// Package lock implements the CDoc recipient "lock" tagged variant: every
// form a recipient can take (certificate, raw public key, password,
// pre-shared symmetric key, or a key-server reference) and the parameters
// each form carries. Construction is total — a Kind cannot be built
// without its mandatory fields. The source's downcast-from-base pattern is
// replaced by a single tagged sum type (see SPEC_FULL.md §4.3) whose
// fields callers read directly; there are no per-Kind accessor methods.
package lock

import "fmt"

// Kind identifies which of the seven lock variants a Lock carries.
type Kind int

const (
	// CDoc1RSA wraps the FMK directly with RSA-PKCS#1 v1.5.
	CDoc1RSA Kind = iota
	// CDoc1ECDH wraps the FMK with AES-KeyWrap under an ECDH+ConcatKDF key.
	CDoc1ECDH
	// CDoc2PublicKeyRSA wraps a random KEK with RSA-OAEP; FMK = KEK xor encrypted_fmk.
	CDoc2PublicKeyRSA
	// CDoc2PublicKeyECC derives a KEK via ECDH+HKDF; FMK = KEK xor encrypted_fmk.
	CDoc2PublicKeyECC
	// CDoc2Server is identical to CDoc2PublicKeyECC/RSA except the sender
	// public key is fetched from a key-server by transaction ID.
	CDoc2Server
	// CDoc2Symmetric derives a KEK from a pre-shared secret via HKDF.
	CDoc2Symmetric
	// CDoc2Password derives a KEK via PBKDF2 then HKDF from a password.
	CDoc2Password
)

func (k Kind) String() string {
	switch k {
	case CDoc1RSA:
		return "CDoc1-RSA"
	case CDoc1ECDH:
		return "CDoc1-ECDH"
	case CDoc2PublicKeyRSA:
		return "CDoc2-PublicKey-RSA"
	case CDoc2PublicKeyECC:
		return "CDoc2-PublicKey-ECC"
	case CDoc2Server:
		return "CDoc2-Server"
	case CDoc2Symmetric:
		return "CDoc2-Symmetric"
	case CDoc2Password:
		return "CDoc2-Password"
	default:
		return "unknown"
	}
}

// PKType distinguishes the public-key algorithm family of a PKI lock.
type PKType int

const (
	PKUnknown PKType = iota
	PKRSA
	PKECC
)

// Lock is a single tagged-variant type covering every recipient form.
// Fields not applicable to the Lock's Kind are left zero; callers check
// Kind and read the fields directly. Nothing stops a read of a field that
// does not apply to the Kind; such a field is simply zero.
type Lock struct {
	Kind Kind

	// Common to every kind.
	Label        string
	EncryptedFMK []byte

	// CDoc1 only: preserved but not used for lookup (spec.md §9 open
	// question — Recipient is the label, KeyName is accepted but inert).
	KeyName string

	// CDoc1RSA / CDoc1ECDH / CDoc2PublicKeyRSA / CDoc2PublicKeyECC.
	Certificate []byte // DER, CDoc1 only
	PKType      PKType

	// CDoc1ECDH.
	EphemeralPublicKey []byte // uncompressed EC point
	AlgorithmID        []byte
	PartyUInfo         []byte
	PartyVInfo         []byte
	ConcatDigestURI    string
	KeyWrapKeyLen      int // AES-KW key length in bytes (16/24/32), from EncryptedKey/EncryptionMethod

	// CDoc2PublicKeyRSA.
	RecipientPublicKeyRSA []byte // DER SubjectPublicKeyInfo or raw modulus form
	EncryptedKEK          []byte

	// CDoc2PublicKeyECC / CDoc2Server.
	RecipientPublicKeyECC []byte // uncompressed P-384 point
	SenderPublicKeyECC    []byte // absent for CDoc2Server until fetched

	// CDoc2Server.
	KeyserverID   string
	TransactionID string

	// CDoc2Symmetric / CDoc2Password.
	Salt []byte

	// CDoc2Password.
	PasswordSalt []byte
	KDFIterCount int
}

func panicWrongKind(have, want Kind) {
	panic(fmt.Sprintf("lock: field not valid for kind %s (expected %s)", have, want))
}

// IsSymmetric reports whether the lock derives its KEK from a pre-shared
// secret or password rather than an asymmetric key agreement.
func (l Lock) IsSymmetric() bool {
	return l.Kind == CDoc2Symmetric || l.Kind == CDoc2Password
}

// IsCDoc1 reports whether this lock belongs to a CDoc1 container.
func (l Lock) IsCDoc1() bool {
	return l.Kind == CDoc1RSA || l.Kind == CDoc1ECDH
}

// IsRSA reports whether unwrapping this lock uses RSA decryption directly.
func (l Lock) IsRSA() bool {
	return l.Kind == CDoc1RSA
}

// NewCDoc1RSA constructs a CDoc1-RSA lock. cert is the recipient's DER
// certificate and encryptedFMK is the RSA-PKCS1v15 ciphertext of the FMK.
func NewCDoc1RSA(label string, cert, encryptedFMK []byte) (Lock, error) {
	if label == "" {
		return Lock{}, errEmptyLabel()
	}
	if len(cert) == 0 {
		return Lock{}, fmt.Errorf("lock: CDoc1-RSA requires a certificate")
	}
	if len(encryptedFMK) == 0 {
		return Lock{}, fmt.Errorf("lock: CDoc1-RSA requires encrypted_fmk")
	}
	return Lock{Kind: CDoc1RSA, Label: label, Certificate: cert, PKType: PKRSA, EncryptedFMK: encryptedFMK}, nil
}

// NewCDoc1ECDH constructs a CDoc1-ECDH lock. kwKeyLen is the AES-KW key
// length in bytes (16, 24, or 32), taken from the EncryptedKey's own
// EncryptionMethod algorithm URI.
func NewCDoc1ECDH(label string, cert, ephemeralPub, algID, partyU, partyV []byte, digestURI string, kwKeyLen int, encryptedFMK []byte) (Lock, error) {
	if label == "" {
		return Lock{}, errEmptyLabel()
	}
	if len(ephemeralPub) == 0 {
		return Lock{}, fmt.Errorf("lock: CDoc1-ECDH requires an ephemeral public key")
	}
	if len(encryptedFMK) == 0 {
		return Lock{}, fmt.Errorf("lock: CDoc1-ECDH requires encrypted_fmk")
	}
	if kwKeyLen != 16 && kwKeyLen != 24 && kwKeyLen != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc1-ECDH requires a 16/24/32-byte AES-KW key length, got %d", kwKeyLen)
	}
	return Lock{
		Kind:               CDoc1ECDH,
		Label:              label,
		Certificate:        cert,
		PKType:             PKECC,
		EphemeralPublicKey: ephemeralPub,
		AlgorithmID:        algID,
		PartyUInfo:         partyU,
		PartyVInfo:         partyV,
		ConcatDigestURI:    digestURI,
		KeyWrapKeyLen:      kwKeyLen,
		EncryptedFMK:       encryptedFMK,
	}, nil
}

// NewCDoc2PublicKeyRSA constructs a CDoc2-PublicKey-RSA lock.
func NewCDoc2PublicKeyRSA(label string, recipientPub, encryptedKEK, encryptedFMK []byte) (Lock, error) {
	if label == "" {
		return Lock{}, errEmptyLabel()
	}
	if len(recipientPub) == 0 {
		return Lock{}, fmt.Errorf("lock: CDoc2-PublicKey-RSA requires a recipient public key")
	}
	if len(encryptedFMK) != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc2-PublicKey-RSA encrypted_fmk must be 32 bytes")
	}
	return Lock{
		Kind:                  CDoc2PublicKeyRSA,
		Label:                 label,
		PKType:                PKRSA,
		RecipientPublicKeyRSA: recipientPub,
		EncryptedKEK:          encryptedKEK,
		EncryptedFMK:          encryptedFMK,
	}, nil
}

// NewCDoc2PublicKeyECC constructs a CDoc2-PublicKey-ECC lock. Both public
// keys must be uncompressed P-384 points (invariant (v)).
func NewCDoc2PublicKeyECC(label string, recipientPub, senderPub, encryptedFMK []byte) (Lock, error) {
	if label == "" {
		return Lock{}, errEmptyLabel()
	}
	if len(encryptedFMK) != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc2-PublicKey-ECC encrypted_fmk must be 32 bytes")
	}
	return Lock{
		Kind:                  CDoc2PublicKeyECC,
		Label:                 label,
		PKType:                PKECC,
		RecipientPublicKeyECC: recipientPub,
		SenderPublicKeyECC:    senderPub,
		EncryptedFMK:          encryptedFMK,
	}, nil
}

// NewCDoc2Server constructs a CDoc2-Server lock. pkType selects whether
// the server holds an RSA or ECC recipient key.
func NewCDoc2Server(label string, pkType PKType, recipientPub []byte, keyserverID, transactionID string, encryptedFMK []byte) (Lock, error) {
	if label == "" {
		return Lock{}, errEmptyLabel()
	}
	if keyserverID == "" || transactionID == "" {
		return Lock{}, fmt.Errorf("lock: CDoc2-Server requires keyserver_id and transaction_id")
	}
	if len(encryptedFMK) != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc2-Server encrypted_fmk must be 32 bytes")
	}
	l := Lock{
		Kind:          CDoc2Server,
		Label:         label,
		PKType:        pkType,
		KeyserverID:   keyserverID,
		TransactionID: transactionID,
		EncryptedFMK:  encryptedFMK,
	}
	if pkType == PKRSA {
		l.RecipientPublicKeyRSA = recipientPub
	} else {
		l.RecipientPublicKeyECC = recipientPub
	}
	return l, nil
}

// NewCDoc2Symmetric constructs a CDoc2-Symmetric lock.
func NewCDoc2Symmetric(label string, salt, encryptedFMK []byte) (Lock, error) {
	if label == "" {
		return Lock{}, errEmptyLabel()
	}
	if len(salt) != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc2-Symmetric salt must be 32 bytes")
	}
	if len(encryptedFMK) != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc2-Symmetric encrypted_fmk must be 32 bytes")
	}
	return Lock{Kind: CDoc2Symmetric, Label: label, Salt: salt, EncryptedFMK: encryptedFMK}, nil
}

// NewCDoc2Password constructs a CDoc2-Password lock. kdfIter must be at
// least 100000 per spec.md §3.
func NewCDoc2Password(label string, salt, pwSalt []byte, kdfIter int, encryptedFMK []byte) (Lock, error) {
	if label == "" {
		return Lock{}, errEmptyLabel()
	}
	if len(salt) != 32 || len(pwSalt) != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc2-Password salt and pw_salt must be 32 bytes")
	}
	if kdfIter < 100000 {
		return Lock{}, fmt.Errorf("lock: CDoc2-Password kdf_iter must be at least 100000, got %d", kdfIter)
	}
	if len(encryptedFMK) != 32 {
		return Lock{}, fmt.Errorf("lock: CDoc2-Password encrypted_fmk must be 32 bytes")
	}
	return Lock{
		Kind:         CDoc2Password,
		Label:        label,
		Salt:         salt,
		PasswordSalt: pwSalt,
		KDFIterCount: kdfIter,
		EncryptedFMK: encryptedFMK,
	}, nil
}

func errEmptyLabel() error {
	return fmt.Errorf("lock: label must be non-empty UTF-8")
}
