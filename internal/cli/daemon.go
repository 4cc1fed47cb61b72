package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkondratev/packwatch/internal/daemon"
)

var daemonForeground bool

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "Log to stderr instead of the state-dir log file")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the workspace hook daemon",
	Long: "Serves hook requests for one workspace over a unix socket.\n" +
		"Normally spawned on demand by the hook command; terminates itself\n" +
		"shortly after the last session detaches.",
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newDaemonLogger(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	d, err := daemon.New(cfg, workspaceDir(), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, shutting down")
		cancel()
	}()

	return d.Run(ctx)
}

// newDaemonLogger logs to a file under the state dir: the daemon is
// usually a detached child whose stderr goes nowhere.
func newDaemonLogger(stateDir string) (*zap.Logger, error) {
	if daemonForeground {
		return zap.NewDevelopment()
	}
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	logPath := filepath.Join(stateDir, "daemon.log")
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{logPath}
	return cfg.Build()
}
