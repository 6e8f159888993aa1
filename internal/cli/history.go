package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/proxyvisor/internal/journal"
)

var (
	historyLines  int
	historyJSON   bool
	historyVerify bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLines, "lines", "n", 20, "Number of recent reconciliations to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print entries as JSON")
	historyCmd.Flags().BoolVar(&historyVerify, "verify", false, "Verify the journal hash chain instead of printing it")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the reconciliation journal",
	Long: "Reads the hash-chained reconciliation journal. With --verify, walks\n" +
		"the chain and fails if any entry's prev_hash does not match the\n" +
		"SHA-256 of the previous line.",
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	path := cfg.JournalPath()

	if historyVerify {
		result := journal.Verify(path)
		if !result.Valid {
			return fmt.Errorf("journal verification failed at line %d: %s", result.ErrorLine, result.Error)
		}
		fmt.Fprintf(out, "OK: %d entries verified\n", result.Lines)
		return nil
	}

	entries, err := journal.ReadAll(path, historyLines)
	if err != nil {
		return err
	}
	if historyJSON {
		text, err := journal.FormatJSON(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}
	fmt.Fprint(out, journal.FormatTimeline(entries))
	return nil
}
