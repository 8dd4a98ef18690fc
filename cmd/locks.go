package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cdoc-project/cdoc"
	"github.com/cdoc-project/cdoc/backend"
	"github.com/cdoc-project/cdoc/lock"
)

var locksCmd = &cobra.Command{
	Use:   "locks [container]",
	Short: "List the recipient locks a container carries, without decrypting it",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		loadDebugFlag()
		return nil
	},
	RunE: runLocks,
}

func init() {
	rootCmd.AddCommand(locksCmd)
}

func runLocks(c *cobra.Command, args []string) error {
	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer in.Close()

	// Locks() never touches key material, so an empty backend is enough
	// to open the container far enough to enumerate them.
	r, err := cdoc.Open(in, backend.NewDefaultCryptoBackend(), nil)
	if err != nil {
		return fmt.Errorf("opening container: %w", err)
	}

	for _, l := range r.Locks() {
		fmt.Printf("%-20s label=%-20s", l.Kind.String(), l.Label)
		if l.Kind == lock.CDoc2Server {
			fmt.Printf(" keyserver=%s transaction=%s", l.KeyserverID, l.TransactionID)
		}
		fmt.Println()
	}
	return nil
}
