package cdoc2

import (
	"crypto/ecdh"

	"github.com/cdoc-project/cdoc/errs"
	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/crypto"
	"github.com/cdoc-project/cdoc/lock"
)

// deriveCEK computes the content-encryption key from the FMK.
func deriveCEK(fmk []byte) ([]byte, error) {
	return crypto.HKDFExpand(fmk, []byte(infoCEK), KeyLen)
}

// deriveHHK computes the header-HMAC key from the FMK.
func deriveHHK(fmk []byte) ([]byte, error) {
	return crypto.HKDFExpand(fmk, []byte(infoHMAC), KeyLen)
}

// eccKEKInfo builds the HKDF-Expand info string shared by the
// PublicKey-ECC and Server lock variants: "CDOC20kek" || fmk_encryption_method || rcpt_pub || sender_pub.
func eccKEKInfo(recipientPub, senderPub []byte) []byte {
	info := make([]byte, 0, len(infoKEKPrefix)+1+len(recipientPub)+len(senderPub))
	info = append(info, infoKEKPrefix...)
	info = append(info, byte(0)) // fmk_encryption_method = XOR = 0
	info = append(info, recipientPub...)
	info = append(info, senderPub...)
	return info
}

// symmetricInfo builds the HKDF-Expand info string for the symmetric and
// password lock variants: "CDOC20" || label.
func symmetricInfo(label string) []byte {
	return append([]byte(infoSymPrefix), label...)
}

// unwrapFMK recovers the FMK for l using cb (and nb, for CDoc2Server
// locks, to fetch the key material the key server holds: an ephemeral
// ECC public key for PKECC, or the RSA-OAEP-encrypted KEK for PKRSA).
// This is the get_fmk step of spec.md §4.6, minus the header-HMAC verification that
// the caller performs once this returns.
func unwrapFMK(l lock.Lock, cb backend.CryptoBackend, nb backend.NetworkBackend) (crypto.Secret, error) {
	switch l.Kind {
	case lock.CDoc2PublicKeyRSA:
		kek, err := cb.RSADecrypt(l.Label, l.EncryptedKEK, true)
		if err != nil {
			return crypto.Secret{}, errs.Wrap(errs.CryptoError, "RSA-OAEP KEK unwrap failed", err)
		}
		fmk, err := crypto.XOR(kek, l.EncryptedFMK)
		if err != nil {
			return crypto.Secret{}, errs.Wrap(errs.CryptoError, "FMK XOR-unwrap failed", err)
		}
		return crypto.NewSecret(fmk), nil

	case lock.CDoc2PublicKeyECC:
		senderPub, err := parseECCPub(l.SenderPublicKeyECC)
		if err != nil {
			return crypto.Secret{}, err
		}
		return unwrapECCKEK(l, cb, senderPub, l.SenderPublicKeyECC)

	case lock.CDoc2Server:
		keyMaterial, err := nb.FetchKey(l.KeyserverID, l.TransactionID)
		if err != nil {
			return crypto.Secret{}, errs.Wrap(errs.IOError, "fetch_key failed", err)
		}
		if l.PKType == lock.PKRSA {
			kek, err := cb.RSADecrypt(l.Label, keyMaterial, true)
			if err != nil {
				return crypto.Secret{}, errs.Wrap(errs.CryptoError, "RSA-OAEP KEK unwrap failed", err)
			}
			fmk, err := crypto.XOR(kek, l.EncryptedFMK)
			if err != nil {
				return crypto.Secret{}, errs.Wrap(errs.CryptoError, "FMK XOR-unwrap failed", err)
			}
			return crypto.NewSecret(fmk), nil
		}
		senderPub, err := parseECCPub(keyMaterial)
		if err != nil {
			return crypto.Secret{}, err
		}
		return unwrapECCKEK(l, cb, senderPub, keyMaterial)

	case lock.CDoc2Symmetric:
		prk, err := cb.ExtractHKDF(l.Label, l.Salt, nil, 0)
		if err != nil {
			return crypto.Secret{}, errs.Wrap(errs.CryptoError, "symmetric KEK derivation failed", err)
		}
		return unwrapXORFromPRK(l, prk)

	case lock.CDoc2Password:
		prk, err := cb.ExtractHKDF(l.Label, l.Salt, l.PasswordSalt, l.KDFIterCount)
		if err != nil {
			return crypto.Secret{}, errs.Wrap(errs.CryptoError, "password KEK derivation failed", err)
		}
		return unwrapXORFromPRK(l, prk)

	default:
		return crypto.Secret{}, errs.New(errs.InvalidParams, "lock is not a CDoc2 lock")
	}
}

func unwrapECCKEK(l lock.Lock, cb backend.CryptoBackend, senderPub *ecdh.PublicKey, senderPubRaw []byte) (crypto.Secret, error) {
	premaster, err := cb.DeriveHMACExtract(l.Label, senderPub, []byte(saltKEKPremaster))
	if err != nil {
		return crypto.Secret{}, errs.Wrap(errs.CryptoError, "ECDH/HKDF-Extract failed", err)
	}
	info := eccKEKInfo(l.RecipientPublicKeyECC, senderPubRaw)
	kek, err := crypto.HKDFExpand(premaster, info, KeyLen)
	if err != nil {
		return crypto.Secret{}, errs.Wrap(errs.CryptoError, "HKDF-Expand failed", err)
	}
	fmk, err := crypto.XOR(kek, l.EncryptedFMK)
	if err != nil {
		return crypto.Secret{}, errs.Wrap(errs.CryptoError, "FMK XOR-unwrap failed", err)
	}
	return crypto.NewSecret(fmk), nil
}

func unwrapXORFromPRK(l lock.Lock, prk []byte) (crypto.Secret, error) {
	kek, err := crypto.HKDFExpand(prk, symmetricInfo(l.Label), KeyLen)
	if err != nil {
		return crypto.Secret{}, errs.Wrap(errs.CryptoError, "HKDF-Expand failed", err)
	}
	fmk, err := crypto.XOR(kek, l.EncryptedFMK)
	if err != nil {
		return crypto.Secret{}, errs.Wrap(errs.CryptoError, "FMK XOR-unwrap failed", err)
	}
	return crypto.NewSecret(fmk), nil
}

func parseECCPub(raw []byte) (*ecdh.PublicKey, error) {
	pub, err := crypto.ParseP384PublicKey(raw)
	if err != nil {
		return nil, errs.Wrap(errs.CryptoError, "invalid ECC public key", err)
	}
	return pub, nil
}
