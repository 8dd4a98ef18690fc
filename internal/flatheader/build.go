package flatheader

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// RecipientBuilder collects the fields needed to encode one recipient.
// Exactly one of the capsule-specific field groups should be populated,
// matching Kind.
type RecipientBuilder struct {
	KeyLabel     string
	EncryptedFMK []byte
	Kind         CapsuleType

	// ECCPublicKey / ECC half of KeyServer
	Curve              Curve
	RecipientPublicKey []byte
	SenderPublicKey    []byte // ECCPublicKey only

	// RSAPublicKey / RSA half of KeyServer
	EncryptedKEK []byte

	// KeyServer
	KeyDetailsType KeyDetailsType
	KeyserverID    string
	TransactionID  string

	// SymmetricKey / PBKDF2
	Salt         []byte
	PasswordSalt []byte // PBKDF2 only
	KDFAlgorithm string // PBKDF2 only
	KDFIterCount uint32 // PBKDF2 only
}

// HeaderBuilder assembles a CDoc2 Header FlatBuffer from a list of
// recipients, in the order add*Recipient was called (header order, which
// Set.ByLabel and friends rely on for its first-match rule).
type HeaderBuilder struct {
	b          *flatbuffers.Builder
	recipients []RecipientBuilder
}

// NewHeaderBuilder constructs an empty HeaderBuilder.
func NewHeaderBuilder() *HeaderBuilder {
	return &HeaderBuilder{b: flatbuffers.NewBuilder(1024)}
}

// AddRecipient appends one recipient descriptor, preserving header order.
func (hb *HeaderBuilder) AddRecipient(r RecipientBuilder) {
	hb.recipients = append(hb.recipients, r)
}

func (hb *HeaderBuilder) buildECCCapsule(r *RecipientBuilder) flatbuffers.UOffsetT {
	b := hb.b
	recipientPub := b.CreateByteVector(r.RecipientPublicKey)
	senderPub := b.CreateByteVector(r.SenderPublicKey)
	b.StartObject(3)
	b.PrependUOffsetTSlot(2, senderPub, 0)
	b.PrependUOffsetTSlot(1, recipientPub, 0)
	b.PrependByteSlot(0, byte(r.Curve), byte(CurveSECP384R1))
	return b.EndObject()
}

func (hb *HeaderBuilder) buildRSACapsule(r *RecipientBuilder) flatbuffers.UOffsetT {
	b := hb.b
	recipientPub := b.CreateByteVector(r.RecipientPublicKey)
	encKEK := b.CreateByteVector(r.EncryptedKEK)
	b.StartObject(2)
	b.PrependUOffsetTSlot(1, encKEK, 0)
	b.PrependUOffsetTSlot(0, recipientPub, 0)
	return b.EndObject()
}

func (hb *HeaderBuilder) buildSymmetricCapsule(r *RecipientBuilder) flatbuffers.UOffsetT {
	b := hb.b
	salt := b.CreateByteVector(r.Salt)
	b.StartObject(1)
	b.PrependUOffsetTSlot(0, salt, 0)
	return b.EndObject()
}

func (hb *HeaderBuilder) buildPBKDF2Capsule(r *RecipientBuilder) flatbuffers.UOffsetT {
	b := hb.b
	salt := b.CreateByteVector(r.Salt)
	pwSalt := b.CreateByteVector(r.PasswordSalt)
	algo := b.CreateString(r.KDFAlgorithm)
	b.StartObject(4)
	b.PrependUint32Slot(3, r.KDFIterCount, 0)
	b.PrependUOffsetTSlot(2, algo, 0)
	b.PrependUOffsetTSlot(1, pwSalt, 0)
	b.PrependUOffsetTSlot(0, salt, 0)
	return b.EndObject()
}

func (hb *HeaderBuilder) buildKeyServerCapsule(r *RecipientBuilder) flatbuffers.UOffsetT {
	b := hb.b

	var keyDetails flatbuffers.UOffsetT
	switch r.KeyDetailsType {
	case KeyDetailsECC:
		recipientPub := b.CreateByteVector(r.RecipientPublicKey)
		b.StartObject(2)
		b.PrependUOffsetTSlot(1, recipientPub, 0)
		b.PrependByteSlot(0, byte(r.Curve), byte(CurveSECP384R1))
		keyDetails = b.EndObject()
	case KeyDetailsRSA:
		recipientPub := b.CreateByteVector(r.RecipientPublicKey)
		b.StartObject(1)
		b.PrependUOffsetTSlot(0, recipientPub, 0)
		keyDetails = b.EndObject()
	}

	keyserverID := b.CreateString(r.KeyserverID)
	transactionID := b.CreateString(r.TransactionID)
	b.StartObject(4)
	b.PrependUOffsetTSlot(3, transactionID, 0)
	b.PrependUOffsetTSlot(2, keyserverID, 0)
	b.PrependUOffsetTSlot(1, keyDetails, 0)
	b.PrependByteSlot(0, byte(r.KeyDetailsType), byte(KeyDetailsNone))
	return b.EndObject()
}

func (hb *HeaderBuilder) buildRecipient(r *RecipientBuilder) flatbuffers.UOffsetT {
	b := hb.b

	var capsule flatbuffers.UOffsetT
	switch r.Kind {
	case CapsuleECCPublicKey:
		capsule = hb.buildECCCapsule(r)
	case CapsuleRSAPublicKey:
		capsule = hb.buildRSACapsule(r)
	case CapsuleKeyServer:
		capsule = hb.buildKeyServerCapsule(r)
	case CapsuleSymmetricKey:
		capsule = hb.buildSymmetricCapsule(r)
	case CapsulePBKDF2:
		capsule = hb.buildPBKDF2Capsule(r)
	}

	keyLabel := b.CreateString(r.KeyLabel)
	encryptedFMK := b.CreateByteVector(r.EncryptedFMK)

	b.StartObject(5)
	b.PrependUOffsetTSlot(4, capsule, 0)
	b.PrependByteSlot(3, byte(r.Kind), byte(CapsuleNone))
	b.PrependByteSlot(2, byte(FMKEncryptionXOR), byte(FMKEncryptionXOR))
	b.PrependUOffsetTSlot(1, encryptedFMK, 0)
	b.PrependUOffsetTSlot(0, keyLabel, 0)
	return b.EndObject()
}

// Finish encodes the full Header table and returns the serialized bytes.
func (hb *HeaderBuilder) Finish() []byte {
	b := hb.b

	offsets := make([]flatbuffers.UOffsetT, len(hb.recipients))
	for i := range hb.recipients {
		offsets[i] = hb.buildRecipient(&hb.recipients[i])
	}

	b.StartVector(4, len(offsets), 4)
	for i := len(offsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offsets[i])
	}
	recipientsVec := b.EndVector(len(offsets))

	b.StartObject(1)
	b.PrependUOffsetTSlot(0, recipientsVec, 0)
	root := b.EndObject()

	b.Finish(root)
	return b.FinishedBytes()
}
