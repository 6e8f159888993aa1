package cli

import (
	"encoding/json"
	"runtime"

	"github.com/spf13/cobra"
)

// version is overridden at link time:
// -ldflags "-X github.com/ppiankov/proxyvisor/internal/cli.version=v0.3.0"
var version = "dev"

type versionInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Go      string `json:"go"`
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the proxyvisor build version",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(versionInfo{Name: "proxyvisor", Version: version, Go: runtime.Version()})
	},
}
