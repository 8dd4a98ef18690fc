package flatheader

import (
	"bytes"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"
)

func TestRoundTripAllCapsuleKinds(t *testing.T) {
	hb := NewHeaderBuilder()
	hb.AddRecipient(RecipientBuilder{
		KeyLabel:           "ecc-recipient",
		EncryptedFMK:       bytes.Repeat([]byte{0x01}, 32),
		Kind:               CapsuleECCPublicKey,
		Curve:              CurveSECP384R1,
		RecipientPublicKey: bytes.Repeat([]byte{0x02}, 97),
		SenderPublicKey:    bytes.Repeat([]byte{0x03}, 97),
	})
	hb.AddRecipient(RecipientBuilder{
		KeyLabel:           "rsa-recipient",
		EncryptedFMK:       bytes.Repeat([]byte{0x04}, 32),
		Kind:               CapsuleRSAPublicKey,
		RecipientPublicKey: bytes.Repeat([]byte{0x05}, 256),
		EncryptedKEK:       bytes.Repeat([]byte{0x06}, 256),
	})
	hb.AddRecipient(RecipientBuilder{
		KeyLabel:     "sym-recipient",
		EncryptedFMK: bytes.Repeat([]byte{0x07}, 32),
		Kind:         CapsuleSymmetricKey,
		Salt:         bytes.Repeat([]byte{0x08}, 32),
	})
	hb.AddRecipient(RecipientBuilder{
		KeyLabel:     "pw-recipient",
		EncryptedFMK: bytes.Repeat([]byte{0x09}, 32),
		Kind:         CapsulePBKDF2,
		Salt:         bytes.Repeat([]byte{0x0a}, 32),
		PasswordSalt: bytes.Repeat([]byte{0x0b}, 32),
		KDFAlgorithm: "PBKDF2WithHmacSHA256",
		KDFIterCount: 100000,
	})
	hb.AddRecipient(RecipientBuilder{
		KeyLabel:       "ks-recipient",
		EncryptedFMK:   bytes.Repeat([]byte{0x0c}, 32),
		Kind:           CapsuleKeyServer,
		KeyDetailsType: KeyDetailsECC,
		Curve:          CurveSECP384R1,
		RecipientPublicKey: bytes.Repeat([]byte{0x0d}, 97),
		KeyserverID:        "ks1",
		TransactionID:      "tx1",
	})

	buf := hb.Finish()

	h, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n := h.RecipientsLength(); n != 5 {
		t.Fatalf("expected 5 recipients, got %d", n)
	}

	var rcpt Recipient
	if !h.Recipients(&rcpt, 0) {
		t.Fatal("expected recipient 0")
	}
	if rcpt.KeyLabel() != "ecc-recipient" {
		t.Fatalf("unexpected label: %q", rcpt.KeyLabel())
	}
	if rcpt.CapsuleType() != CapsuleECCPublicKey {
		t.Fatalf("unexpected capsule type: %v", rcpt.CapsuleType())
	}
	var eccTab flatbuffers.Table
	if !rcpt.Capsule(&eccTab) {
		t.Fatal("expected capsule")
	}
	var ecc ECCPublicKeyCapsule
	ecc.Init(eccTab.Bytes, eccTab.Pos)
	if ecc.Curve() != CurveSECP384R1 {
		t.Fatalf("unexpected curve: %v", ecc.Curve())
	}
	if !bytes.Equal(ecc.RecipientPublicKey(), bytes.Repeat([]byte{0x02}, 97)) {
		t.Fatal("recipient public key mismatch")
	}
	if !bytes.Equal(ecc.SenderPublicKey(), bytes.Repeat([]byte{0x03}, 97)) {
		t.Fatal("sender public key mismatch")
	}

	h.Recipients(&rcpt, 3)
	if rcpt.KeyLabel() != "pw-recipient" {
		t.Fatalf("unexpected label: %q", rcpt.KeyLabel())
	}
	var pwTab flatbuffers.Table
	rcpt.Capsule(&pwTab)
	var pw PBKDF2Capsule
	pw.Init(pwTab.Bytes, pwTab.Pos)
	if pw.KDFIterations() != 100000 {
		t.Fatalf("unexpected iter count: %d", pw.KDFIterations())
	}
	if pw.KDFAlgorithmIdentifier() != "PBKDF2WithHmacSHA256" {
		t.Fatalf("unexpected kdf algorithm: %q", pw.KDFAlgorithmIdentifier())
	}

	h.Recipients(&rcpt, 4)
	var ksTab flatbuffers.Table
	rcpt.Capsule(&ksTab)
	var ks KeyServerCapsule
	ks.Init(ksTab.Bytes, ksTab.Pos)
	if ks.KeyserverID() != "ks1" || ks.TransactionID() != "tx1" {
		t.Fatal("key server identifiers mismatch")
	}
	if ks.KeyDetailsType() != KeyDetailsECC {
		t.Fatal("expected ECC key details")
	}
}

func TestDecodeHeaderRejectsTruncatedBuffer(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected rejection of a too-short buffer")
	}
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	garbage := bytes.Repeat([]byte{0xff}, 32)
	if _, err := DecodeHeader(garbage); err == nil {
		t.Fatal("expected rejection of a garbage buffer")
	}
}
