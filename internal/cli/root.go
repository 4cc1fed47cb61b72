// Package cli implements the packwatch command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pkondratev/packwatch/internal/config"
)

var (
	flagConfig string
	flagDir    string
)

var rootCmd = &cobra.Command{
	Use:   "packwatch",
	Short: "Knowledge-pack injection and command gating for agent sessions",
	Long: "Serves agent hook requests over a per-workspace unix socket: scores\n" +
		"knowledge packs for context injection and gates shell commands through\n" +
		"allowlist, denylist, learned rules, and a remote evaluator.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config YAML (default ~/.packwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Workspace directory (default: current directory)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

func workspaceDir() string {
	if flagDir != "" {
		return flagDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
