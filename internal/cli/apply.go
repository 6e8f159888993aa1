package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/proxyvisor/internal/configstore"
	"github.com/ppiankov/proxyvisor/internal/directive"
)

var applyDisable bool

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolVar(&applyDisable, "disable", false, "Comment out the current forward directive")
}

var applyCmd = &cobra.Command{
	Use:   "apply [<host:port> | \"forward <pattern> <target>\"]",
	Short: "Rewrite the forward directive once",
	Long: "Replaces the forward directive in the proxy configuration without\n" +
		"touching the proxy process. A running daemon picks the change up only\n" +
		"through its desired-state document, so use this for maintenance.",
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	if applyDisable == (len(args) == 1) {
		return fmt.Errorf("give either an address or --disable")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	def, err := cfg.DefaultDirective()
	if err != nil {
		return err
	}
	store := configstore.New(cfg.Proxy.ConfigPath)

	current, found, err := store.Current(def.Pattern)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w in %s", configstore.ErrDirectiveNotFound, cfg.Proxy.ConfigPath)
	}

	next := current.Disable()
	if !applyDisable {
		next, err = directive.FromValueFor(args[0], current.Pattern)
		if err != nil {
			return err
		}
	}

	if err := store.ApplyDirective(current, next); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s → %s\n", current, next)
	return nil
}
