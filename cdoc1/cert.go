package cdoc1

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// parseCertRSAPublicKey extracts the RSA public key from a DER-encoded
// X.509 certificate.
func parseCertRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate does not carry an RSA public key")
	}
	return pub, nil
}
