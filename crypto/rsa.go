package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
)

// RSADecrypt decrypts ct with priv, using OAEP-SHA-256 when oaep is true
// and PKCS#1 v1.5 otherwise.
func RSADecrypt(priv *rsa.PrivateKey, ct []byte, oaep bool) ([]byte, error) {
	if priv == nil {
		return nil, errf(KindInvalidInput, "nil RSA private key")
	}
	if oaep {
		pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, nil)
		if err != nil {
			return nil, errf(KindDecrypt, "RSA-OAEP decrypt: %v", err)
		}
		return pt, nil
	}
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ct)
	if err != nil {
		return nil, errf(KindDecrypt, "RSA-PKCS1v15 decrypt: %v", err)
	}
	return pt, nil
}

// RSAEncrypt encrypts pt to pub, using OAEP-SHA-256 when oaep is true and
// PKCS#1 v1.5 otherwise. Used by the CDoc1/CDoc2 writers.
func RSAEncrypt(pub *rsa.PublicKey, pt []byte, oaep bool) ([]byte, error) {
	if pub == nil {
		return nil, errf(KindInvalidInput, "nil RSA public key")
	}
	if oaep {
		ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, pt, nil)
		if err != nil {
			return nil, errf(KindDecrypt, "RSA-OAEP encrypt: %v", err)
		}
		return ct, nil
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, pt)
	if err != nil {
		return nil, errf(KindDecrypt, "RSA-PKCS1v15 encrypt: %v", err)
	}
	return ct, nil
}
