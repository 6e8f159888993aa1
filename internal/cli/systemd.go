package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/proxyvisor/internal/systemd"
)

var (
	systemdBinary     string
	systemdRecordHash string
)

func init() {
	rootCmd.AddCommand(systemdCmd)
	systemdCmd.Flags().StringVar(&systemdBinary, "binary", "/usr/local/bin/proxyvisor", "Path of the installed proxyvisor binary")
	systemdCmd.Flags().StringVar(&systemdRecordHash, "record-hash", "", "Record the hash of an installed unit file instead of printing one")
}

var systemdCmd = &cobra.Command{
	Use:   "systemd",
	Short: "Print the systemd unit for proxyvisor run",
	Long: "Prints a hardened systemd unit. After installing it, run\n" +
		"'proxyvisor systemd --record-hash " + systemd.DefaultUnitPath + "'\n" +
		"so 'proxyvisor check' can detect later modifications.",
	RunE: runSystemd,
}

func runSystemd(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if systemdRecordHash != "" {
		if err := os.MkdirAll(cfg.StateDir, 0750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
		if err := systemd.RecordUnitFileHash(systemdRecordHash, cfg.UnitHashPath()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded hash of %s in %s\n", systemdRecordHash, cfg.UnitHashPath())
		return nil
	}

	fmt.Fprint(cmd.OutOrStdout(), systemd.UnitTemplate(systemdBinary, configPath,
		filepath.Dir(cfg.Proxy.ConfigPath), cfg.StateDir))
	return nil
}
