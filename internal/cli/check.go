package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/proxyvisor/internal/configstore"
	"github.com/ppiankov/proxyvisor/internal/desired"
	"github.com/ppiankov/proxyvisor/internal/systemd"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and show the current directive",
	Long: "Loads the proxyvisor configuration, validates it, reads the forward\n" +
		"directive from the proxy configuration and the desired-state document.\n\n" +
		"Exit code 0 if the configuration is usable, 1 otherwise.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Config:       %s (%s)\n", configPath, hash)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	def, _ := cfg.DefaultDirective()
	current, found, err := configstore.New(cfg.Proxy.ConfigPath).Current(def.Pattern)
	if err != nil {
		return err
	}
	if found {
		fmt.Fprintf(out, "Proxy config: %s\nDirective:    %s\n", cfg.Proxy.ConfigPath, current)
	} else {
		fmt.Fprintf(out, "Proxy config: %s\nDirective:    none (default %s)\n", cfg.Proxy.ConfigPath, def)
	}

	props, _, err := desired.Load(cfg.Desired.Path)
	switch {
	case err != nil:
		fmt.Fprintf(out, "Desired:      %s (unreadable: %v)\n", cfg.Desired.Path, err)
	default:
		if v, ok := props.Forward(); ok {
			fmt.Fprintf(out, "Desired:      %s (Forward=%q)\n", cfg.Desired.Path, v)
		} else {
			fmt.Fprintf(out, "Desired:      %s (no Forward, forwarding disabled)\n", cfg.Desired.Path)
		}
	}

	if msg := systemd.CheckUnitFileIntegrity(systemd.DefaultUnitPath, cfg.UnitHashPath()); msg != "" {
		fmt.Fprintf(out, "WARNING: %s\n", msg)
	}
	return nil
}
