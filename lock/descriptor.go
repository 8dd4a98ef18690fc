package lock

// Descriptor is the writer-side counterpart to Lock: it carries what
// AddRecipient needs to *wrap* an FMK (recipient public keys, a password's
// KDF parameters, or a symmetric secret's label), as opposed to Lock's
// wire-parsed fields (encrypted_fmk and whatever else travels non-secret
// in the header). A single Descriptor, once wrapped, produces the Lock
// that the header encodes.
type Descriptor struct {
	Kind  Kind
	Label string

	// CDoc2PublicKeyRSA.
	RecipientPublicKeyRSA []byte

	// CDoc2PublicKeyECC. Also doubles as the recipient's raw EC point for
	// CDoc1ECDH, where the same ephemeral-ECDH shape applies.
	RecipientPublicKeyECC []byte

	// CDoc2Symmetric: no extra fields — the writer generates a fresh
	// 32-byte salt and looks up the pre-shared secret under Label via
	// CryptoBackend.ExtractHKDF.

	// CDoc2Password: KDFIterCount must be at least 100000; zero selects
	// the writer's default iteration count.
	KDFIterCount int

	// CDoc1RSA / CDoc1ECDH: recipient's DER-encoded X.509 certificate.
	// Optional for CDoc1ECDH, where RecipientPublicKeyECC alone is enough
	// to run the key agreement.
	CertificateDER []byte

	// CDoc1ECDH: AES-KeyWrap key length in bytes (16/24/32). Zero selects
	// the writer's default (32, AES-256-KW).
	KWKeyLen int
}
