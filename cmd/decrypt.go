package cmd

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cdoc-project/cdoc"
	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/internal/keyserver"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt [container]",
	Short: "Decrypt a CDoc1 or CDoc2 container",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		loadDebugFlag()
		return nil
	},
	RunE: runDecrypt,
}

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().StringP("out-dir", "o", ".", "directory to write decrypted files into")
	decryptCmd.Flags().StringArray("key", nil, "label=path to a recipient's RSA or EC private key (repeatable)")
	decryptCmd.Flags().StringArray("secret", nil, "label=path to a pre-shared secret or password file (repeatable)")
	decryptCmd.Flags().String("keyserver-url", "", "base URL of the CDoc2-Server key server (only needed for CDoc2-Server locks)")
	decryptCmd.Flags().String("client-cert", "", "client certificate (DER or PEM) for key server mutual TLS")
	decryptCmd.Flags().String("client-key", "", "client private key for key server mutual TLS")
	decryptCmd.Flags().StringArray("peer-cert", nil, "key server certificate to pin (DER or PEM, repeatable)")
	viper.BindPFlag("decrypt.out_dir", decryptCmd.Flags().Lookup("out-dir"))
	viper.BindPFlag("decrypt.key", decryptCmd.Flags().Lookup("key"))
	viper.BindPFlag("decrypt.secret", decryptCmd.Flags().Lookup("secret"))
	viper.BindPFlag("decrypt.keyserver_url", decryptCmd.Flags().Lookup("keyserver-url"))
	viper.BindPFlag("decrypt.client_cert", decryptCmd.Flags().Lookup("client-cert"))
	viper.BindPFlag("decrypt.client_key", decryptCmd.Flags().Lookup("client-key"))
	viper.BindPFlag("decrypt.peer_cert", decryptCmd.Flags().Lookup("peer-cert"))
}

// buildDecryptNetworkBackend constructs a key server Client from the
// --keyserver-url/--client-cert/--client-key/--peer-cert flags, or returns
// nil if --keyserver-url was not given (fine unless the container carries
// a CDoc2-Server lock).
func buildDecryptNetworkBackend() (backend.NetworkBackend, error) {
	baseURL := viper.GetString("decrypt.keyserver_url")
	if baseURL == "" {
		return nil, nil
	}
	clientCertPath := viper.GetString("decrypt.client_cert")
	clientKeyPath := viper.GetString("decrypt.client_key")
	if clientCertPath == "" || clientKeyPath == "" {
		return nil, fmt.Errorf("--keyserver-url requires --client-cert and --client-key")
	}
	clientCert, err := readCertOrKeyFile(clientCertPath)
	if err != nil {
		return nil, fmt.Errorf("--client-cert: %w", err)
	}
	signer, err := parsePrivateKey(clientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("--client-key: %w", err)
	}
	var peerCerts [][]byte
	for _, path := range viper.GetStringSlice("decrypt.peer_cert") {
		der, err := readCertOrKeyFile(path)
		if err != nil {
			return nil, fmt.Errorf("--peer-cert %s: %w", path, err)
		}
		peerCerts = append(peerCerts, der)
	}
	return keyserver.NewClient(baseURL, clientCert, signer, peerCerts)
}

// parseLabelledFlag splits a "label=path" flag value used by --key/--secret.
func parseLabelledFlag(v string) (label, path string, err error) {
	i := strings.IndexByte(v, '=')
	if i < 0 {
		return "", "", fmt.Errorf("expected label=path, got %q", v)
	}
	return v[:i], v[i+1:], nil
}

// buildDecryptBackend loads every --key/--secret flag into a fresh
// DefaultCryptoBackend under its given label.
func buildDecryptBackend() (*backend.DefaultCryptoBackend, error) {
	cb := backend.NewDefaultCryptoBackend()

	for _, kv := range viper.GetStringSlice("decrypt.key") {
		label, path, err := parseLabelledFlag(kv)
		if err != nil {
			return nil, fmt.Errorf("--key: %w", err)
		}
		signer, err := parsePrivateKey(path)
		if err != nil {
			return nil, fmt.Errorf("--key %s: %w", label, err)
		}
		switch key := signer.(type) {
		case *rsa.PrivateKey:
			cb.WithRSAKey(label, key)
		case *ecdsa.PrivateKey:
			ecdhKey, err := key.ECDH()
			if err != nil {
				return nil, fmt.Errorf("--key %s: converting EC key to ECDH: %w", label, err)
			}
			cb.WithECDHKey(label, ecdhKey)
		default:
			return nil, fmt.Errorf("--key %s: unsupported private key type %T", label, signer)
		}
	}

	for _, kv := range viper.GetStringSlice("decrypt.secret") {
		label, path, err := parseLabelledFlag(kv)
		if err != nil {
			return nil, fmt.Errorf("--secret: %w", err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("--secret %s: %w", label, err)
		}
		cb.WithSecret(label, b)
	}

	return cb, nil
}

func runDecrypt(c *cobra.Command, args []string) error {
	containerPath := args[0]
	outDir := viper.GetString("decrypt.out_dir")

	cb, err := buildDecryptBackend()
	if err != nil {
		return err
	}
	nb, err := buildDecryptNetworkBackend()
	if err != nil {
		return err
	}

	in, err := os.Open(containerPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", containerPath, err)
	}
	defer in.Close()

	r, err := cdoc.Open(in, cb, nb)
	if err != nil {
		return fmt.Errorf("opening container: %w", err)
	}

	locks := r.Locks()
	if len(locks) == 0 {
		return fmt.Errorf("container carries no locks")
	}

	var lastErr error
	unlocked := false
	for _, l := range locks {
		fmk, err := r.GetFMK(l)
		if err != nil {
			lastErr = err
			continue
		}
		err = r.BeginDecryption(fmk)
		fmk.Zero()
		if err != nil {
			lastErr = err
			continue
		}
		unlocked = true
		slog.Debug("unlocked container", "label", l.Label, "kind", l.Kind.String())
		break
	}
	if !unlocked {
		return fmt.Errorf("no available key material could open any lock: %w", lastErr)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", outDir, err)
	}

	count := 0
	for {
		name, size, err := r.NextFile()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading next file entry: %w", err)
		}
		if err := extractFile(r, filepath.Join(outDir, filepath.Base(name)), size); err != nil {
			return fmt.Errorf("extracting %s: %w", name, err)
		}
		count++
	}
	if err := r.FinishDecryption(); err != nil {
		return fmt.Errorf("finishing decryption: %w", err)
	}
	slog.Info("decrypted container", "path", containerPath, "files", count, "out_dir", outDir)
	return nil
}

func extractFile(r cdoc.Reader, dest string, size int64) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.CopyN(out, readerFunc(r.Read), size)
	return err
}

// readerFunc adapts a Read method value to io.Reader so io.CopyN can pull
// straight out of the container's decrypt stream.
type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
