package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkondratev/packwatch/internal/client"
	"github.com/pkondratev/packwatch/internal/model"
)

func init() {
	rootCmd.AddCommand(hookCmd)
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Relay one hook request from stdin to the workspace daemon",
	Long: "Reads one JSON hook request from stdin, delivers it to the workspace\n" +
		"daemon (spawning it when absent), and prints the JSON response.\n" +
		"Always prints valid JSON — failures yield the neutral response {}.",
	Run: func(cmd *cobra.Command, args []string) {
		out, err := json.Marshal(relayHook())
		if err != nil {
			out = []byte("{}")
		}
		fmt.Println(string(out))
	},
}

// relayHook never fails: an agent waiting on the hook must always get a
// parseable answer.
func relayHook() *model.HookResponse {
	neutral := &model.HookResponse{}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "packwatch hook: %v\n", err)
		return neutral
	}

	input, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		fmt.Fprintf(os.Stderr, "packwatch hook: read stdin: %v\n", err)
		return neutral
	}
	req, err := model.ParseRequest(bytes.TrimSpace(input))
	if err != nil {
		fmt.Fprintf(os.Stderr, "packwatch hook: %v\n", err)
		return neutral
	}

	c := client.New(cfg.StateDir, workspaceDir(), flagConfig, cfg.ApproveTimeout+5*time.Second)

	// Ending a session must not resurrect a daemon that already exited.
	if req.Hook != model.HookSessionEnd {
		if err := c.EnsureDaemon(); err != nil {
			fmt.Fprintf(os.Stderr, "packwatch hook: %v\n", err)
			return neutral
		}
	}

	resp, err := c.Send(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "packwatch hook: %v\n", err)
		return neutral
	}
	return resp
}
