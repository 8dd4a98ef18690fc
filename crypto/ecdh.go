package crypto

import (
	stdecdh "crypto/ecdh"
)

// ECDHP384 performs an ECDH key agreement on the P-384 curve, returning
// the 48-byte shared secret (the big-endian X coordinate).
func ECDHP384(priv *stdecdh.PrivateKey, peerPub *stdecdh.PublicKey) ([]byte, error) {
	if priv == nil || peerPub == nil {
		return nil, errf(KindInvalidInput, "nil ECDH key")
	}
	if priv.Curve() != stdecdh.P384() || peerPub.Curve() != stdecdh.P384() {
		return nil, errf(KindUnsupportedAlgorithm, "ECDH lock curve must be P-384")
	}
	z, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, errf(KindDecrypt, "ECDH: %v", err)
	}
	return z, nil
}

// ParseP384PublicKey parses an uncompressed P-384 point (as carried on the
// wire by a lock's ephemeral/recipient public key field).
func ParseP384PublicKey(raw []byte) (*stdecdh.PublicKey, error) {
	pub, err := stdecdh.P384().NewPublicKey(raw)
	if err != nil {
		return nil, errf(KindUnsupportedAlgorithm, "invalid P-384 public key: %v", err)
	}
	return pub, nil
}
