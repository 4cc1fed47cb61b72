package cli

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkondratev/packwatch/internal/audit"
	"github.com/pkondratev/packwatch/internal/daemon"
	"github.com/pkondratev/packwatch/internal/pack"
	"github.com/pkondratev/packwatch/internal/rules"
)

var statusVerifyLog bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusVerifyLog, "verify-log", false, "Verify the decision log hash chain")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, rule, and pack status for the workspace",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workdir := workspaceDir()

	fmt.Println(titleStyle.Render("packwatch status"))
	fmt.Printf("%s %s\n", keyStyle.Render("workspace"), workdir)

	sock := daemon.SocketPath(cfg.StateDir, workdir)
	if conn, err := net.DialTimeout("unix", sock, time.Second); err == nil {
		_ = conn.Close()
		fmt.Printf("%s %s\n", keyStyle.Render("daemon"), okStyle.Render("running"))
	} else {
		fmt.Printf("%s %s\n", keyStyle.Render("daemon"), dimStyle.Render("not running"))
	}
	fmt.Printf("%s %s\n", keyStyle.Render("socket"), dimStyle.Render(sock))

	store, err := rules.NewStore(cfg.AllowlistPath, cfg.DenylistPath, cfg.LearnedPath, zap.NewNop())
	if err != nil {
		fmt.Printf("%s %s\n", keyStyle.Render("rules"), errStyle.Render(err.Error()))
	} else {
		allow, deny, learned := store.Snapshot()
		fmt.Printf("%s %d allow, %d deny, %d learned\n",
			keyStyle.Render("rules"), len(allow), len(deny), len(learned))
	}

	packs := pack.NewCache(nil).Get(cfg.PacksDir)
	fmt.Printf("%s %d in %s\n", keyStyle.Render("packs"), len(packs), cfg.PacksDir)

	if statusVerifyLog {
		logPath := filepath.Join(cfg.StateDir, "decisions.jsonl")
		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			fmt.Printf("%s %s\n", keyStyle.Render("decision log"), dimStyle.Render("empty"))
		} else if res := audit.Verify(logPath); !res.Valid {
			fmt.Printf("%s %s\n", keyStyle.Render("decision log"),
				errStyle.Render(fmt.Sprintf("broken at line %d: %s", res.ErrorLine, res.Error)))
			return fmt.Errorf("decision log verification failed")
		} else {
			fmt.Printf("%s %s\n", keyStyle.Render("decision log"),
				okStyle.Render(fmt.Sprintf("chain intact (%d entries)", res.Lines)))
		}
	}
	return nil
}
