package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/proxyvisor/internal/statestore"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded supervisor status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	store, err := statestore.OpenReadOnly(cmd.Context(), cfg.StatusDBPath())
	if errors.Is(err, statestore.ErrNoState) {
		fmt.Fprintf(out, "No state recorded in %s\n", cfg.StateDir)
		return nil
	}
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Load(cmd.Context())
	if err != nil {
		return err
	}

	if statusJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "Directive:    %s\n", st.Directive)
	if st.Running {
		fmt.Fprintf(out, "Proxy:        running (pid %d, since %s)\n", st.PID, st.StartedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "Proxy:        stopped (last exit code %d)\n", st.LastExit)
	}
	fmt.Fprintf(out, "Restarts:     %d\n", st.Restarts)
	if st.LastOutcome != "" {
		fmt.Fprintf(out, "Last:         #%d %s", st.LastSeq, st.LastOutcome)
		if st.LastError != "" {
			fmt.Fprintf(out, " (%s)", st.LastError)
		}
		fmt.Fprintln(out)
	}
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "Updated:      %s\n", st.UpdatedAt.Format(time.RFC3339))
	}

	outcomes := make([]string, 0, len(st.Counters))
	for o := range st.Counters {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(out, "  %-22s %d\n", o, st.Counters[o])
	}
	return nil
}
