// Package flatheader implements the CDoc2 header's FlatBuffer schema: a
// hand-written equivalent of what `flatc` would generate, since no schema
// compiler runs in this environment. The wire shape matches the schema
// named in the container format verbatim: a Header table holding a vector
// of Recipient tables, each carrying a discriminated Capsule union.
//
// Accessors follow the generated-code convention (VT_* vtable offset
// constants, Init/_tab receiver pattern) so a reader already familiar with
// flatc output can follow this package without a separate mental model.
package flatheader

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// FMKEncryptionMethod enumerates how encrypted_fmk was produced from the
// KEK. CDoc2 only ever uses XOR (spec.md §3).
type FMKEncryptionMethod byte

const FMKEncryptionXOR FMKEncryptionMethod = 0

// Curve enumerates the elliptic curves a capsule's public keys are on.
// CDoc2 only accepts secp384r1 (spec.md §3 invariant v).
type Curve byte

const CurveSECP384R1 Curve = 0

// CapsuleType discriminates the Recipient.capsule union.
type CapsuleType byte

const (
	CapsuleNone CapsuleType = iota
	CapsuleECCPublicKey
	CapsuleRSAPublicKey
	CapsuleKeyServer
	CapsuleSymmetricKey
	CapsulePBKDF2
)

// KeyDetailsType discriminates a KeyServerCapsule's key_details union: the
// key-server capsule carries the same kind of key-exchange detail an ECC
// or RSA capsule would, it just resolves the sender's public key via
// fetch_key instead of inlining it.
type KeyDetailsType byte

const (
	KeyDetailsNone KeyDetailsType = iota
	KeyDetailsECC
	KeyDetailsRSA
)

// --- Recipient table ---

const (
	vtRecipientKeyLabel            flatbuffers.VOffsetT = 4
	vtRecipientEncryptedFMK         flatbuffers.VOffsetT = 6
	vtRecipientFMKEncryptionMethod  flatbuffers.VOffsetT = 8
	vtRecipientCapsuleType          flatbuffers.VOffsetT = 10
	vtRecipientCapsule              flatbuffers.VOffsetT = 12
)

// Recipient is a read-side view over one Header.recipients entry.
type Recipient struct {
	tab flatbuffers.Table
}

func (r *Recipient) Init(buf []byte, i flatbuffers.UOffsetT) {
	r.tab.Bytes = buf
	r.tab.Pos = i
}

func (r *Recipient) KeyLabel() string {
	o := r.tab.Offset(vtRecipientKeyLabel)
	if o == 0 {
		return ""
	}
	return string(r.tab.ByteVector(o + r.tab.Pos))
}

func (r *Recipient) EncryptedFMK() []byte {
	o := r.tab.Offset(vtRecipientEncryptedFMK)
	if o == 0 {
		return nil
	}
	return r.tab.ByteVector(o + r.tab.Pos)
}

func (r *Recipient) FMKEncryptionMethod() FMKEncryptionMethod {
	o := r.tab.Offset(vtRecipientFMKEncryptionMethod)
	if o == 0 {
		return FMKEncryptionXOR
	}
	return FMKEncryptionMethod(r.tab.GetByte(o + r.tab.Pos))
}

func (r *Recipient) CapsuleType() CapsuleType {
	o := r.tab.Offset(vtRecipientCapsuleType)
	if o == 0 {
		return CapsuleNone
	}
	return CapsuleType(r.tab.GetByte(o + r.tab.Pos))
}

// Capsule positions obj at the recipient's capsule union table. Callers
// must already know, via CapsuleType, which concrete accessor type to
// Init obj as.
func (r *Recipient) Capsule(obj *flatbuffers.Table) bool {
	o := r.tab.Offset(vtRecipientCapsule)
	if o == 0 {
		return false
	}
	r.tab.Union(obj, o)
	return true
}

// --- ECCPublicKeyCapsule ---

const (
	vtECCCurve              flatbuffers.VOffsetT = 4
	vtECCRecipientPublicKey flatbuffers.VOffsetT = 6
	vtECCSenderPublicKey    flatbuffers.VOffsetT = 8
)

type ECCPublicKeyCapsule struct{ tab flatbuffers.Table }

func (c *ECCPublicKeyCapsule) Init(buf []byte, i flatbuffers.UOffsetT) {
	c.tab.Bytes = buf
	c.tab.Pos = i
}

func (c *ECCPublicKeyCapsule) Curve() Curve {
	o := c.tab.Offset(vtECCCurve)
	if o == 0 {
		return CurveSECP384R1
	}
	return Curve(c.tab.GetByte(o + c.tab.Pos))
}

func (c *ECCPublicKeyCapsule) RecipientPublicKey() []byte {
	o := c.tab.Offset(vtECCRecipientPublicKey)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

func (c *ECCPublicKeyCapsule) SenderPublicKey() []byte {
	o := c.tab.Offset(vtECCSenderPublicKey)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

// --- RSAPublicKeyCapsule ---

const (
	vtRSARecipientPublicKey flatbuffers.VOffsetT = 4
	vtRSAEncryptedKEK       flatbuffers.VOffsetT = 6
)

type RSAPublicKeyCapsule struct{ tab flatbuffers.Table }

func (c *RSAPublicKeyCapsule) Init(buf []byte, i flatbuffers.UOffsetT) {
	c.tab.Bytes = buf
	c.tab.Pos = i
}

func (c *RSAPublicKeyCapsule) RecipientPublicKey() []byte {
	o := c.tab.Offset(vtRSARecipientPublicKey)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

func (c *RSAPublicKeyCapsule) EncryptedKEK() []byte {
	o := c.tab.Offset(vtRSAEncryptedKEK)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

// --- SymmetricKeyCapsule ---

const vtSymmetricSalt flatbuffers.VOffsetT = 4

type SymmetricKeyCapsule struct{ tab flatbuffers.Table }

func (c *SymmetricKeyCapsule) Init(buf []byte, i flatbuffers.UOffsetT) {
	c.tab.Bytes = buf
	c.tab.Pos = i
}

func (c *SymmetricKeyCapsule) Salt() []byte {
	o := c.tab.Offset(vtSymmetricSalt)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

// --- PBKDF2Capsule ---

const (
	vtPBKDF2Salt                   flatbuffers.VOffsetT = 4
	vtPBKDF2PasswordSalt           flatbuffers.VOffsetT = 6
	vtPBKDF2KDFAlgorithmIdentifier flatbuffers.VOffsetT = 8
	vtPBKDF2KDFIterations          flatbuffers.VOffsetT = 10
)

type PBKDF2Capsule struct{ tab flatbuffers.Table }

func (c *PBKDF2Capsule) Init(buf []byte, i flatbuffers.UOffsetT) {
	c.tab.Bytes = buf
	c.tab.Pos = i
}

func (c *PBKDF2Capsule) Salt() []byte {
	o := c.tab.Offset(vtPBKDF2Salt)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

func (c *PBKDF2Capsule) PasswordSalt() []byte {
	o := c.tab.Offset(vtPBKDF2PasswordSalt)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

func (c *PBKDF2Capsule) KDFAlgorithmIdentifier() string {
	o := c.tab.Offset(vtPBKDF2KDFAlgorithmIdentifier)
	if o == 0 {
		return ""
	}
	return string(c.tab.ByteVector(o + c.tab.Pos))
}

func (c *PBKDF2Capsule) KDFIterations() uint32 {
	o := c.tab.Offset(vtPBKDF2KDFIterations)
	if o == 0 {
		return 0
	}
	return c.tab.GetUint32(o + c.tab.Pos)
}

// --- KeyServerCapsule ---

const (
	vtKeyServerKeyDetailsType flatbuffers.VOffsetT = 4
	vtKeyServerKeyDetails     flatbuffers.VOffsetT = 6
	vtKeyServerKeyserverID    flatbuffers.VOffsetT = 8
	vtKeyServerTransactionID  flatbuffers.VOffsetT = 10
)

type KeyServerCapsule struct{ tab flatbuffers.Table }

func (c *KeyServerCapsule) Init(buf []byte, i flatbuffers.UOffsetT) {
	c.tab.Bytes = buf
	c.tab.Pos = i
}

func (c *KeyServerCapsule) KeyDetailsType() KeyDetailsType {
	o := c.tab.Offset(vtKeyServerKeyDetailsType)
	if o == 0 {
		return KeyDetailsNone
	}
	return KeyDetailsType(c.tab.GetByte(o + c.tab.Pos))
}

func (c *KeyServerCapsule) KeyDetails(obj *flatbuffers.Table) bool {
	o := c.tab.Offset(vtKeyServerKeyDetails)
	if o == 0 {
		return false
	}
	c.tab.Union(obj, o)
	return true
}

func (c *KeyServerCapsule) KeyserverID() string {
	o := c.tab.Offset(vtKeyServerKeyserverID)
	if o == 0 {
		return ""
	}
	return string(c.tab.ByteVector(o + c.tab.Pos))
}

func (c *KeyServerCapsule) TransactionID() string {
	o := c.tab.Offset(vtKeyServerTransactionID)
	if o == 0 {
		return ""
	}
	return string(c.tab.ByteVector(o + c.tab.Pos))
}

// ECCServerKeyDetails/RSAServerKeyDetails carry the same fields as their
// non-server-capsule counterparts, minus the sender public key (which the
// key server resolves out of band via fetch_key).

type ECCServerKeyDetails struct{ tab flatbuffers.Table }

func (c *ECCServerKeyDetails) Init(buf []byte, i flatbuffers.UOffsetT) {
	c.tab.Bytes = buf
	c.tab.Pos = i
}

func (c *ECCServerKeyDetails) Curve() Curve {
	o := c.tab.Offset(vtECCCurve)
	if o == 0 {
		return CurveSECP384R1
	}
	return Curve(c.tab.GetByte(o + c.tab.Pos))
}

func (c *ECCServerKeyDetails) RecipientPublicKey() []byte {
	o := c.tab.Offset(vtECCRecipientPublicKey)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

type RSAServerKeyDetails struct{ tab flatbuffers.Table }

func (c *RSAServerKeyDetails) Init(buf []byte, i flatbuffers.UOffsetT) {
	c.tab.Bytes = buf
	c.tab.Pos = i
}

func (c *RSAServerKeyDetails) RecipientPublicKey() []byte {
	o := c.tab.Offset(vtRSARecipientPublicKey)
	if o == 0 {
		return nil
	}
	return c.tab.ByteVector(o + c.tab.Pos)
}

// --- Header table ---

const vtHeaderRecipients flatbuffers.VOffsetT = 4

// Header is the read-side root table.
type Header struct{ tab flatbuffers.Table }

// GetRootAsHeader parses buf as a Header table rooted at offset.
func GetRootAsHeader(buf []byte, offset flatbuffers.UOffsetT) *Header {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	h := &Header{}
	h.Init(buf, n+offset)
	return h
}

func (h *Header) Init(buf []byte, i flatbuffers.UOffsetT) {
	h.tab.Bytes = buf
	h.tab.Pos = i
}

func (h *Header) RecipientsLength() int {
	o := h.tab.Offset(vtHeaderRecipients)
	if o == 0 {
		return 0
	}
	return h.tab.VectorLen(o)
}

func (h *Header) Recipients(obj *Recipient, j int) bool {
	o := h.tab.Offset(vtHeaderRecipients)
	if o == 0 {
		return false
	}
	x := h.tab.Vector(o)
	x += flatbuffers.UOffsetT(j) * 4
	x = h.tab.Indirect(x)
	obj.Init(h.tab.Bytes, x)
	return true
}
