package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// SocketPath derives the per-workspace socket path under the state
// directory. Distinct workspaces map to distinct sockets; the same
// workspace always maps to the same one.
func SocketPath(stateDir, workdir string) string {
	return filepath.Join(stateDir, "run", "pw-"+workspaceID(workdir)+".sock")
}

// PIDPath is the lock file guarding one daemon per workspace.
func PIDPath(stateDir, workdir string) string {
	return filepath.Join(stateDir, "run", "pw-"+workspaceID(workdir)+".pid")
}

func workspaceID(workdir string) string {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		abs = workdir
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:12]
}

// acquirePIDLock writes the current PID to the file and checks for stale locks.
func acquirePIDLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(string(data))
		if err == nil {
			// Check if the process is still running.
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("another daemon is running (PID %d)", pid)
				}
			}
		}
		// Stale PID file — remove it.
		_ = os.Remove(path)
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}
