package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cdoc-project/cdoc"
	"github.com/cdoc-project/cdoc/backend"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [files...]",
	Short: "Encrypt one or more files into a CDoc1 or CDoc2 container",
	Args:  cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		loadDebugFlag()
		return nil
	},
	RunE: runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringP("out", "o", "", "output container path (required)")
	encryptCmd.Flags().String("format", "cdoc2", "container format: cdoc1 or cdoc2")
	encryptCmd.Flags().String("recipients", "", "recipients file listing who can decrypt (required)")
	encryptCmd.Flags().String("cdoc1-cipher", "", "CDoc1 payload cipher algorithm URI (defaults to AES-256-GCM)")
	encryptCmd.MarkFlagRequired("out")
	encryptCmd.MarkFlagRequired("recipients")
	viper.BindPFlag("encrypt.out", encryptCmd.Flags().Lookup("out"))
	viper.BindPFlag("encrypt.format", encryptCmd.Flags().Lookup("format"))
	viper.BindPFlag("encrypt.recipients", encryptCmd.Flags().Lookup("recipients"))
	viper.BindPFlag("encrypt.cdoc1_cipher", encryptCmd.Flags().Lookup("cdoc1-cipher"))
}

func runEncrypt(c *cobra.Command, args []string) error {
	outPath := viper.GetString("encrypt.out")
	recipientsPath := viper.GetString("encrypt.recipients")
	format := viper.GetString("encrypt.format")

	specs, err := loadRecipients(recipientsPath)
	if err != nil {
		return err
	}

	f := cdoc.CDoc2
	if format == "cdoc1" {
		f = cdoc.CDoc1
	} else if format != "cdoc2" {
		return fmt.Errorf("unsupported --format %q (want cdoc1 or cdoc2)", format)
	}

	cb := backend.NewDefaultCryptoBackend()
	if err := registerSecrets(cb, specs); err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer out.Close()

	opts := []cdoc.WriterOption{cdoc.WithCryptoBackend(cb)}
	if cipher := viper.GetString("encrypt.cdoc1_cipher"); cipher != "" {
		opts = append(opts, cdoc.WithCDoc1Cipher(cipher))
	}
	w, err := cdoc.NewWriter(f, out, opts...)
	if err != nil {
		return fmt.Errorf("opening %s writer: %w", f, err)
	}
	defer w.Close()

	for _, spec := range specs {
		d, err := resolveRecipient(spec)
		if err != nil {
			return err
		}
		if err := w.AddRecipient(d); err != nil {
			return fmt.Errorf("recipient %q: %w", spec.Label, err)
		}
	}

	for _, path := range args {
		if err := addFileToWriter(w, path); err != nil {
			return err
		}
	}

	if err := w.Finish(); err != nil {
		return fmt.Errorf("finishing container: %w", err)
	}
	slog.Info("wrote container", "path", outPath, "format", f.String(), "files", len(args), "recipients", len(specs))
	return nil
}

func addFileToWriter(w cdoc.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	name := filepath.Base(path)
	if err := w.AddFile(name, st.Size()); err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(writerFunc(w.Write), in); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// writerFunc adapts a Write method value to io.Writer so io.Copy can
// stream straight from the input file into the container.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
