// Package client is the hook-side connector: it finds (or spawns) the
// workspace daemon and performs one request/response exchange over its
// unix socket.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/pkondratev/packwatch/internal/daemon"
	"github.com/pkondratev/packwatch/internal/model"
)

// dialTimeout bounds one connection attempt.
const dialTimeout = time.Second

// spawnRetries is how many dial attempts follow a daemon spawn.
const spawnRetries = 20

// spawnBackoff is the delay between dial attempts after spawning.
const spawnBackoff = 100 * time.Millisecond

// Client talks to the daemon serving one workspace.
type Client struct {
	stateDir   string
	workdir    string
	configPath string
	timeout    time.Duration
}

// New creates a client for the given state directory and workspace.
// configPath is forwarded to a spawned daemon so both sides resolve the
// same state directory; empty means defaults.
func New(stateDir, workdir, configPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{stateDir: stateDir, workdir: workdir, configPath: configPath, timeout: timeout}
}

// Send performs one hook exchange. Fails with an error when no daemon
// is reachable; callers that must never fail print the neutral response
// themselves.
func (c *Client) Send(req *model.HookRequest) (*model.HookResponse, error) {
	conn, err := net.DialTimeout("unix", daemon.SocketPath(c.stateDir, c.workdir), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable: %w", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode hook request: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("send hook request: %w", err)
	}

	var resp model.HookResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read hook response: %w", err)
	}
	return &resp, nil
}

// EnsureDaemon spawns a detached daemon for the workspace unless one is
// already serving the socket, then waits for it to come up.
func (c *Client) EnsureDaemon() error {
	sock := daemon.SocketPath(c.stateDir, c.workdir)
	if conn, err := net.DialTimeout("unix", sock, dialTimeout); err == nil {
		_ = conn.Close()
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := []string{"daemon", "--dir", c.workdir}
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	// Detach: the daemon outlives this hook invocation.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	for i := 0; i < spawnRetries; i++ {
		if conn, err := net.DialTimeout("unix", sock, dialTimeout); err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(spawnBackoff)
	}
	return fmt.Errorf("daemon did not come up at %s", sock)
}
