package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/proxyvisor/internal/daemon"
)

var (
	runProxyConfig string
	runDesired     string
	runStateDir    string
	runMetricsAddr string
	runHealthAddr  string
	runPoll        bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runProxyConfig, "proxy-config", "", "Proxy configuration file (overrides proxy.config_path)")
	runCmd.Flags().StringVar(&runDesired, "desired", "", "Desired-state document (overrides desired.path)")
	runCmd.Flags().StringVar(&runStateDir, "state-dir", "", "State directory (overrides state_dir)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Prometheus listen address (overrides metrics_addr)")
	runCmd.Flags().StringVar(&runHealthAddr, "health-addr", "", "gRPC health listen address (overrides health_addr)")
	runCmd.Flags().BoolVar(&runPoll, "poll", false, "Poll the desired-state document instead of using fsnotify")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor daemon",
	Long: "Watches the desired-state document, rewrites the proxy's forward\n" +
		"directive on every change and starts or restarts the proxy.\n" +
		"Stops on SIGINT or SIGTERM.",
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	if runProxyConfig != "" {
		cfg.Proxy.ConfigPath = runProxyConfig
	}
	if runDesired != "" {
		cfg.Desired.Path = runDesired
	}
	if runStateDir != "" {
		cfg.StateDir = runStateDir
	}
	if runMetricsAddr != "" {
		cfg.MetricsAddr = runMetricsAddr
	}
	if runHealthAddr != "" {
		cfg.HealthAddr = runHealthAddr
	}
	if runPoll {
		cfg.Desired.Poll = true
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded", zap.String("path", configPath), zap.String("hash", hash))

	d, err := daemon.New(cfg, daemon.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
