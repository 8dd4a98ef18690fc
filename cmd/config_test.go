package cmd

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/lock"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func selfSignedRSACert(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "config-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return der, priv
}

func selfSignedECCert(t *testing.T) ([]byte, *ecdh.PrivateKey) {
	t.Helper()
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating EC key: %v", err)
	}
	return priv.PublicKey().Bytes(), priv
}

func TestDatabaseConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     DatabaseConfig
		wantErr bool
	}{
		{"missing dsn", DatabaseConfig{Type: "sqlite"}, true},
		{"bad type", DatabaseConfig{Type: "mysql", DSN: "x"}, true},
		{"sqlite ok", DatabaseConfig{Type: "sqlite", DSN: "test.db"}, false},
		{"postgres ok, mixed case", DatabaseConfig{Type: "Postgres", DSN: "postgres://x"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestHTTPConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     HTTPConfig
		wantErr bool
	}{
		{"missing ip", HTTPConfig{Port: "8443"}, true},
		{"missing port", HTTPConfig{IP: "0.0.0.0"}, true},
		{"cert without key", HTTPConfig{IP: "0.0.0.0", Port: "8443", CertPath: "c"}, true},
		{"plain ok", HTTPConfig{IP: "0.0.0.0", Port: "8443"}, false},
		{"tls ok", HTTPConfig{IP: "0.0.0.0", Port: "8443", CertPath: "c", KeyPath: "k"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
	tlsCfg := HTTPConfig{IP: "1.2.3.4", Port: "9"}
	if tlsCfg.listenAddress() != "1.2.3.4:9" {
		t.Fatalf("unexpected listen address %q", tlsCfg.listenAddress())
	}
	if tlsCfg.useTLS() {
		t.Fatal("expected useTLS() false without cert/key")
	}
}

func TestRecipientSpecValidate(t *testing.T) {
	cases := []struct {
		name    string
		spec    RecipientSpec
		wantErr bool
	}{
		{"no label", RecipientSpec{Kind: "cdoc2-symmetric", SecretPath: "s"}, true},
		{"unknown kind", RecipientSpec{Label: "r1", Kind: "bogus"}, true},
		{"cdoc1-rsa needs cert", RecipientSpec{Label: "r1", Kind: "cdoc1-rsa"}, true},
		{"cdoc1-rsa ok", RecipientSpec{Label: "r1", Kind: "cdoc1-rsa", CertPath: "c"}, false},
		{"cdoc2-symmetric needs secret", RecipientSpec{Label: "r1", Kind: "cdoc2-symmetric"}, true},
		{"cdoc2-symmetric ok", RecipientSpec{Label: "r1", Kind: "cdoc2-symmetric", SecretPath: "s"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.spec.validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestLoadRecipientsFromYAML(t *testing.T) {
	dir := t.TempDir()
	certDER, _ := selfSignedRSACert(t)
	certPath := writeTempFile(t, dir, "cert.pem", certDER)
	secretPath := writeTempFile(t, dir, "secret.bin", []byte("topsecret"))

	yaml := "recipients:\n" +
		"  - kind: cdoc1-rsa\n" +
		"    label: alice\n" +
		"    cert: " + certPath + "\n" +
		"  - kind: cdoc2-symmetric\n" +
		"    label: bob\n" +
		"    secret: " + secretPath + "\n"
	cfgPath := filepath.Join(dir, "recipients.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing recipients file: %v", err)
	}

	specs, err := loadRecipients(cfgPath)
	if err != nil {
		t.Fatalf("loadRecipients: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(specs))
	}
	if specs[0].Label != "alice" || specs[0].Kind != "cdoc1-rsa" {
		t.Fatalf("unexpected first recipient: %+v", specs[0])
	}
	if specs[1].Label != "bob" || specs[1].Kind != "cdoc2-symmetric" {
		t.Fatalf("unexpected second recipient: %+v", specs[1])
	}
}

func TestLoadRecipientsEmptyIsError(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(cfgPath, []byte("recipients: []\n"), 0o600); err != nil {
		t.Fatalf("writing recipients file: %v", err)
	}
	if _, err := loadRecipients(cfgPath); err == nil {
		t.Fatal("expected an error for an empty recipients list")
	}
}

func TestResolveRecipientCDoc1RSA(t *testing.T) {
	dir := t.TempDir()
	certDER, _ := selfSignedRSACert(t)
	certPath := writeTempFile(t, dir, "cert.pem", certDER)

	d, err := resolveRecipient(RecipientSpec{Kind: "cdoc1-rsa", Label: "alice", CertPath: certPath})
	if err != nil {
		t.Fatalf("resolveRecipient: %v", err)
	}
	if d.Kind != lock.CDoc1RSA || d.Label != "alice" || len(d.CertificateDER) == 0 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestResolveRecipientCDoc2ECC(t *testing.T) {
	dir := t.TempDir()
	rawPub, _ := selfSignedECCert(t)
	pubPath := writeTempFile(t, dir, "pub.der", rawPub)

	d, err := resolveRecipient(RecipientSpec{Kind: "cdoc2-ecc", Label: "bob", PubKeyPath: pubPath})
	if err != nil {
		t.Fatalf("resolveRecipient: %v", err)
	}
	if d.Kind != lock.CDoc2PublicKeyECC || d.Label != "bob" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if string(d.RecipientPublicKeyECC) != string(rawPub) {
		t.Fatalf("expected raw EC point to pass through unchanged")
	}
}

func TestResolveRecipientCDoc2Symmetric(t *testing.T) {
	d, err := resolveRecipient(RecipientSpec{Kind: "cdoc2-symmetric", Label: "shared"})
	if err != nil {
		t.Fatalf("resolveRecipient: %v", err)
	}
	if d.Kind != lock.CDoc2Symmetric || d.Label != "shared" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestRegisterSecrets(t *testing.T) {
	dir := t.TempDir()
	secretPath := writeTempFile(t, dir, "secret.bin", []byte("hunter2"))

	specs := []RecipientSpec{
		{Kind: "cdoc2-symmetric", Label: "s1", SecretPath: secretPath},
		{Kind: "cdoc1-rsa", Label: "ignored", CertPath: "unused"},
	}
	cb := backend.NewDefaultCryptoBackend()
	if err := registerSecrets(cb, specs); err != nil {
		t.Fatalf("registerSecrets: %v", err)
	}
	secret, err := cb.GetSecret("s1")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if string(secret) != "hunter2" {
		t.Fatalf("unexpected secret %q", secret)
	}
}
