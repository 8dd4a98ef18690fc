package cmd

import (
	"crypto/ecdh"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/lock"
)

// DatabaseConfig selects the gorm driver and data source for the reference
// key server's transaction store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn"`
}

func (dc *DatabaseConfig) validate() error {
	if dc.DSN == "" {
		return errors.New("database configuration error: dsn is required")
	}
	dc.Type = strings.ToLower(dc.Type)
	if dc.Type != "sqlite" && dc.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s (must be 'sqlite' or 'postgres')", dc.Type)
	}
	return nil
}

// HTTPConfig configures the key server's listen address and optional TLS
// server identity.
type HTTPConfig struct {
	IP       string `mapstructure:"ip"`
	Port     string `mapstructure:"port"`
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
}

func (h *HTTPConfig) listenAddress() string {
	return h.IP + ":" + h.Port
}

func (h *HTTPConfig) useTLS() bool {
	return h.CertPath != "" && h.KeyPath != ""
}

func (h *HTTPConfig) validate() error {
	if h.IP == "" {
		return errors.New("the key server's HTTP IP address is required")
	}
	if h.Port == "" {
		return errors.New("the key server's HTTP port is required")
	}
	if (h.CertPath == "") != (h.KeyPath == "") {
		return errors.New("both server certificate and key must be provided together, or neither")
	}
	return nil
}

// RecipientSpec is one entry of a --recipients-file list: a recipient
// descriptor described by file paths rather than in-memory key material,
// so it can be decoded straight out of a YAML/JSON config the way the
// teacher's ServiceInfoConfig decodes FSIM operations.
type RecipientSpec struct {
	Kind  string `mapstructure:"kind"` // cdoc1-rsa, cdoc1-ecdh, cdoc2-rsa, cdoc2-ecc, cdoc2-symmetric, cdoc2-password
	Label string `mapstructure:"label"`

	// cdoc1-rsa, cdoc1-ecdh (optional), cdoc2-rsa, cdoc2-ecc: path to a PEM
	// or DER X.509 certificate carrying the recipient's public key.
	CertPath string `mapstructure:"cert"`

	// cdoc1-ecdh, cdoc2-ecc: path to the recipient's raw EC point;
	// cdoc2-rsa: path to a DER SubjectPublicKeyInfo. One PEM block is
	// unwrapped if present, and the bytes are then used as-is instead of
	// the key taken from CertPath.
	PubKeyPath string `mapstructure:"pubkey"`

	// cdoc2-symmetric, cdoc2-password: path to a file holding the raw
	// pre-shared secret or password text, registered with the writer's
	// CryptoBackend under Label before encryption starts.
	SecretPath string `mapstructure:"secret"`

	KWKeyLen     int `mapstructure:"kw_key_len"` // cdoc1-ecdh only; 0 -> 32
	KDFIterCount int `mapstructure:"kdf_iter"`   // cdoc2-password only; 0 -> writer default
}

func (r *RecipientSpec) validate() error {
	if r.Label == "" {
		return errors.New("recipient: label is required")
	}
	switch r.Kind {
	case "cdoc1-rsa":
		if r.CertPath == "" {
			return fmt.Errorf("recipient %q: cdoc1-rsa requires cert", r.Label)
		}
	case "cdoc1-ecdh":
		if r.CertPath == "" && r.PubKeyPath == "" {
			return fmt.Errorf("recipient %q: cdoc1-ecdh requires cert or pubkey", r.Label)
		}
	case "cdoc2-rsa":
		if r.CertPath == "" && r.PubKeyPath == "" {
			return fmt.Errorf("recipient %q: cdoc2-rsa requires cert or pubkey", r.Label)
		}
	case "cdoc2-ecc":
		if r.CertPath == "" && r.PubKeyPath == "" {
			return fmt.Errorf("recipient %q: cdoc2-ecc requires cert or pubkey", r.Label)
		}
	case "cdoc2-symmetric", "cdoc2-password":
		if r.SecretPath == "" {
			return fmt.Errorf("recipient %q: %s requires secret", r.Label, r.Kind)
		}
	default:
		return fmt.Errorf("recipient %q: unsupported kind %q", r.Label, r.Kind)
	}
	return nil
}

// loadRecipients reads a YAML/JSON/TOML recipients file (any format
// viper's parser supports) shaped as a top-level `recipients:` list and
// decodes it via mapstructure, the way the teacher decodes service_info
// entries in cmd/config.go.
func loadRecipients(path string) ([]RecipientSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading recipients file %s: %w", path, err)
	}
	var specs []RecipientSpec
	if err := v.UnmarshalKey("recipients", &specs, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("decoding recipients file %s: %w", path, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("recipients file %s: no recipients listed", path)
	}
	for i := range specs {
		if err := specs[i].validate(); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// readCertOrKeyFile loads a PEM or raw-DER blob, unwrapping one PEM block
// if present.
func readCertOrKeyFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(b); block != nil {
		return block.Bytes, nil
	}
	return b, nil
}

// extractRSAPublicKeyDER parses a DER certificate and returns its public
// key as a DER SubjectPublicKeyInfo, for lock.Descriptor.RecipientPublicKeyRSA
// (CDoc2, which has no certificate wrapper in the wire format).
func extractRSAPublicKeyDER(certDER []byte) ([]byte, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return x509.MarshalPKIXPublicKey(cert.PublicKey)
}

// extractECPublicKeyRaw loads the recipient's raw EC point, either from a
// certificate's SubjectPublicKeyInfo or from a bare PEM/DER SPKI public
// key file.
func extractECPublicKeyRaw(der []byte, fromCert bool) ([]byte, error) {
	var pub any
	var err error
	if fromCert {
		cert, cerr := x509.ParseCertificate(der)
		if cerr != nil {
			return nil, fmt.Errorf("parsing certificate: %w", cerr)
		}
		pub = cert.PublicKey
	} else {
		pub, err = x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("parsing public key: %w", err)
		}
	}
	ecPub, ok := pub.(interface{ Bytes() []byte })
	if ok {
		return ecPub.Bytes(), nil
	}
	// crypto/ecdh public keys implement Bytes(); crypto/ecdsa ones don't,
	// so convert through ECDH.
	if ecdsaPub, ok := pub.(interface {
		ECDH() (*ecdh.PublicKey, error)
	}); ok {
		k, err := ecdsaPub.ECDH()
		if err != nil {
			return nil, fmt.Errorf("converting to ECDH public key: %w", err)
		}
		return k.Bytes(), nil
	}
	return nil, errors.New("key is not an EC public key")
}

// resolveRecipient turns a RecipientSpec into the lock.Descriptor the
// cdoc Writer facade's AddRecipient expects.
func resolveRecipient(spec RecipientSpec) (lock.Descriptor, error) {
	d := lock.Descriptor{Label: spec.Label, KDFIterCount: spec.KDFIterCount, KWKeyLen: spec.KWKeyLen}

	var certDER []byte
	if spec.CertPath != "" {
		b, err := readCertOrKeyFile(spec.CertPath)
		if err != nil {
			return lock.Descriptor{}, fmt.Errorf("recipient %q: %w", spec.Label, err)
		}
		certDER = b
	}
	var pubDER []byte
	if spec.PubKeyPath != "" {
		b, err := readCertOrKeyFile(spec.PubKeyPath)
		if err != nil {
			return lock.Descriptor{}, fmt.Errorf("recipient %q: %w", spec.Label, err)
		}
		pubDER = b
	}

	switch spec.Kind {
	case "cdoc1-rsa":
		d.Kind = lock.CDoc1RSA
		d.CertificateDER = certDER
	case "cdoc1-ecdh":
		d.Kind = lock.CDoc1ECDH
		d.CertificateDER = certDER
		if pubDER != nil {
			d.RecipientPublicKeyECC = pubDER
		} else {
			raw, err := extractECPublicKeyRaw(certDER, true)
			if err != nil {
				return lock.Descriptor{}, fmt.Errorf("recipient %q: %w", spec.Label, err)
			}
			d.RecipientPublicKeyECC = raw
		}
	case "cdoc2-rsa":
		d.Kind = lock.CDoc2PublicKeyRSA
		if pubDER != nil {
			d.RecipientPublicKeyRSA = pubDER
		} else {
			raw, err := extractRSAPublicKeyDER(certDER)
			if err != nil {
				return lock.Descriptor{}, fmt.Errorf("recipient %q: %w", spec.Label, err)
			}
			d.RecipientPublicKeyRSA = raw
		}
	case "cdoc2-ecc":
		d.Kind = lock.CDoc2PublicKeyECC
		if pubDER != nil {
			d.RecipientPublicKeyECC = pubDER
		} else {
			raw, err := extractECPublicKeyRaw(certDER, true)
			if err != nil {
				return lock.Descriptor{}, fmt.Errorf("recipient %q: %w", spec.Label, err)
			}
			d.RecipientPublicKeyECC = raw
		}
	case "cdoc2-symmetric":
		d.Kind = lock.CDoc2Symmetric
	case "cdoc2-password":
		d.Kind = lock.CDoc2Password
	default:
		return lock.Descriptor{}, fmt.Errorf("recipient %q: unsupported kind %q", spec.Label, spec.Kind)
	}
	return d, nil
}

// registerSecrets reads every CDoc2Symmetric/CDoc2Password recipient's
// SecretPath and registers it with cb under the recipient's label, so the
// writer's CryptoBackend.ExtractHKDF call can find it.
func registerSecrets(cb *backend.DefaultCryptoBackend, specs []RecipientSpec) error {
	for _, spec := range specs {
		if spec.Kind != "cdoc2-symmetric" && spec.Kind != "cdoc2-password" {
			continue
		}
		secret, err := os.ReadFile(spec.SecretPath)
		if err != nil {
			return fmt.Errorf("recipient %q: reading secret file: %w", spec.Label, err)
		}
		cb.WithSecret(spec.Label, secret)
	}
	return nil
}
