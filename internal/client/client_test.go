package client

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkondratev/packwatch/internal/daemon"
	"github.com/pkondratev/packwatch/internal/model"
)

// fakeDaemon answers one request per connection with a fixed response.
func fakeDaemon(t *testing.T, sockPath string, resp model.HookResponse) {
	t.Helper()
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer func() { _ = conn.Close() }()
				if _, err := bufio.NewReader(conn).ReadBytes('\n'); err != nil {
					return
				}
				_ = json.NewEncoder(conn).Encode(resp)
			}(conn)
		}
	}()
}

func TestSendRoundTrip(t *testing.T) {
	stateDir := t.TempDir()
	workdir := "/home/dev/project"
	sock := daemon.SocketPath(stateDir, workdir)
	if err := mkdirForSocket(sock); err != nil {
		t.Fatal(err)
	}
	fakeDaemon(t, sock, model.HookResponse{Decision: model.Allow, Source: model.SourceAllowlist, Reason: "read-only"})

	c := New(stateDir, workdir, "", 2*time.Second)
	resp, err := c.Send(&model.HookRequest{Hook: model.HookApprove, SessionID: "s1", Tool: "Bash", Command: "git status"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Decision != model.Allow || resp.Source != model.SourceAllowlist {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSendFailsWhenNoDaemon(t *testing.T) {
	c := New(t.TempDir(), "/home/dev/absent", "", time.Second)
	if _, err := c.Send(&model.HookRequest{Hook: model.HookInject, SessionID: "s1"}); err == nil {
		t.Error("expected an error with no daemon listening")
	}
}

func TestEnsureDaemonNoopWhenAlreadyUp(t *testing.T) {
	stateDir := t.TempDir()
	workdir := "/home/dev/project"
	sock := daemon.SocketPath(stateDir, workdir)
	if err := mkdirForSocket(sock); err != nil {
		t.Fatal(err)
	}
	fakeDaemon(t, sock, model.HookResponse{})

	c := New(stateDir, workdir, "", time.Second)
	if err := c.EnsureDaemon(); err != nil {
		t.Errorf("EnsureDaemon must be a no-op with a live socket: %v", err)
	}
}

func mkdirForSocket(sock string) error {
	return os.MkdirAll(filepath.Dir(sock), 0750)
}
