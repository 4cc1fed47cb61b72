// Package daemon runs the per-workspace hook server: a unix socket
// accepting newline-delimited JSON hook requests from agent sessions,
// dispatching them to the pack scorer, the command gate, and the
// session registry. The daemon terminates itself when the last session
// detaches.
package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pkondratev/packwatch/internal/audit"
	"github.com/pkondratev/packwatch/internal/config"
	"github.com/pkondratev/packwatch/internal/evaluator"
	"github.com/pkondratev/packwatch/internal/gate"
	"github.com/pkondratev/packwatch/internal/metrics"
	"github.com/pkondratev/packwatch/internal/model"
	"github.com/pkondratev/packwatch/internal/pack"
	"github.com/pkondratev/packwatch/internal/relevance"
	"github.com/pkondratev/packwatch/internal/rules"
	"github.com/pkondratev/packwatch/internal/session"
)

// maxRequestBytes caps one inbound request line.
const maxRequestBytes = 1 << 20

// Daemon wires all components behind the hook socket.
type Daemon struct {
	cfg     *config.Config
	workdir string
	log     *zap.Logger

	store    *rules.Store
	gate     *gate.Gate
	remote   *evaluator.Client
	scorer   *relevance.Scorer
	packs    *pack.Cache
	injected *relevance.InjectionSet
	registry *session.Registry
	recorder *metrics.Recorder
	audit    *audit.Log

	mu       sync.Mutex
	guidance map[string]*session.GuidanceLog
	cancel   context.CancelFunc
}

// New builds a daemon for one workspace. The rule store, decision log,
// and metrics recorder are opened immediately; the socket is created by
// Run.
func New(cfg *config.Config, workdir string, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.StateDir, 0750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	store, err := rules.NewStore(cfg.AllowlistPath, cfg.DenylistPath, cfg.LearnedPath, log)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	auditLog, err := audit.Open(filepath.Join(cfg.StateDir, "decisions.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	recorder := metrics.NewRecorder(filepath.Join(cfg.StateDir, "metrics.jsonl"))
	remote := evaluator.New(cfg.Evaluator, cfg.APIKey(), log)

	d := &Daemon{
		cfg:      cfg,
		workdir:  workdir,
		log:      log,
		store:    store,
		remote:   remote,
		gate:     gate.New(store, remote, auditLog, recorder, log),
		scorer:   relevance.NewScorer(cfg.Scoring),
		packs:    pack.NewCache(log),
		injected: relevance.NewInjectionSet(cfg.InjectionDedupSize),
		recorder: recorder,
		audit:    auditLog,
		guidance: make(map[string]*session.GuidanceLog),
	}

	d.registry = session.NewRegistry(cfg.ShutdownGrace, d.shutdown, log)
	d.registry.OnEmpty(func() {
		d.injected.Clear()
		d.remote.Ledger().Reset()
		d.clearGuidance()
	})
	return d, nil
}

// Run serves the workspace socket until ctx is cancelled or the last
// session detaches and the grace delay elapses.
func (d *Daemon) Run(ctx context.Context) error {
	runDir := filepath.Join(d.cfg.StateDir, "run")
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	pidPath := PIDPath(d.cfg.StateDir, d.workdir)
	if err := acquirePIDLock(pidPath); err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	sockPath := SocketPath(d.cfg.StateDir, d.workdir)
	// The PID lock proved exclusivity; a leftover socket is from a
	// crashed instance.
	_ = os.Remove(sockPath)

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sockPath, err)
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(sockPath)
		_ = d.audit.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	reloader := NewReloader(
		[]string{d.cfg.AllowlistPath, d.cfg.DenylistPath},
		d.applyRuleReload,
		d.log,
	)
	go func() {
		if err := reloader.Run(ctx); err != nil {
			d.log.Warn("rule reloader stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	d.log.Info("daemon listening",
		zap.String("socket", sockPath),
		zap.String("workdir", d.workdir))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.log.Info("daemon stopping")
				return nil
			}
			d.log.Warn("accept failed", zap.Error(err))
			continue
		}
		go d.serveConn(ctx, conn)
	}
}

// applyRuleReload swaps rule sets in and drops settled remote decisions
// so the new rules see every future command fresh.
func (d *Daemon) applyRuleReload() {
	if err := d.store.Reload(); err != nil {
		d.log.Warn("rule reload failed, keeping previous rules", zap.Error(err))
		return
	}
	d.gate.ClearSettled()
	d.log.Info("rule files reloaded")
}

func (d *Daemon) shutdown() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// serveConn handles exactly one request/response exchange.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(d.cfg.ApproveTimeout + 5*time.Second))

	reader := bufio.NewReader(io.LimitReader(conn, maxRequestBytes))
	line, err := reader.ReadBytes('\n')
	if err != nil && len(bytes.TrimSpace(line)) == 0 {
		d.log.Warn("unreadable request", zap.Error(err))
		d.writeResponse(conn, &model.HookResponse{})
		return
	}

	req, err := model.ParseRequest(bytes.TrimSpace(line))
	if err != nil {
		d.log.Warn("rejected request", zap.Error(err))
		d.writeResponse(conn, &model.HookResponse{})
		return
	}

	d.writeResponse(conn, d.dispatch(ctx, req))
}

func (d *Daemon) writeResponse(conn net.Conn, resp *model.HookResponse) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		d.log.Warn("write response failed", zap.Error(err))
	}
}

// dispatch runs the handler for one request under its per-type timeout.
// An expired handler yields the neutral response; the caller is never
// left hanging.
func (d *Daemon) dispatch(ctx context.Context, req *model.HookRequest) *model.HookResponse {
	timeout := d.cfg.InjectTimeout
	if req.Hook == model.HookApprove {
		timeout = d.cfg.ApproveTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *model.HookResponse, 1)
	go func() { done <- d.handle(hctx, req) }()

	select {
	case resp := <-done:
		return resp
	case <-hctx.Done():
		d.log.Warn("handler timed out",
			zap.String("hook", string(req.Hook)),
			zap.String("session", req.SessionID))
		return &model.HookResponse{}
	}
}

func (d *Daemon) handle(ctx context.Context, req *model.HookRequest) *model.HookResponse {
	switch req.Hook {
	case model.HookSessionStart:
		return d.handleSessionStart(req)
	case model.HookSessionEnd:
		return d.handleSessionEnd(req)
	case model.HookInject:
		return d.handleInject(req)
	case model.HookApprove:
		return d.handleApprove(ctx, req)
	case model.HookGuidance:
		d.guidanceFor(req.SessionID).Record(req.Prompt)
		return &model.HookResponse{}
	case model.HookCompact:
		d.injected.Clear()
		return &model.HookResponse{}
	default:
		return &model.HookResponse{}
	}
}

func (d *Daemon) handleSessionStart(req *model.HookRequest) *model.HookResponse {
	first := d.registry.Add(req.SessionID)
	d.recorder.Track(req.SessionID)
	if first {
		// Warm the pack cache so the first inject is served from memory.
		packs := d.packs.Get(d.cfg.PacksDir)
		d.log.Info("first session attached",
			zap.String("session", req.SessionID),
			zap.Int("packs", len(packs)))
	}
	return &model.HookResponse{}
}

func (d *Daemon) handleSessionEnd(req *model.HookRequest) *model.HookResponse {
	if summary, err := d.recorder.FlushSession(req.SessionID); err != nil {
		d.log.Warn("flush session metrics failed",
			zap.String("session", req.SessionID), zap.Error(err))
	} else if summary != nil {
		d.log.Info("session summary",
			zap.String("session", req.SessionID),
			zap.Int("decisions", summary.Total),
			zap.Float64("auto_approval_rate", summary.AutoApprovalRate))
	}

	d.mu.Lock()
	delete(d.guidance, req.SessionID)
	d.mu.Unlock()

	// Last: may run teardown hooks and schedule termination.
	d.registry.Remove(req.SessionID)
	return &model.HookResponse{}
}

func (d *Daemon) handleInject(req *model.HookRequest) *model.HookResponse {
	glog := d.guidanceFor(req.SessionID)
	sel := d.scorer.Score(relevance.Context{
		FilePath:    req.FilePath,
		Guidance:    glog.Categories(),
		Corrections: glog.Corrections(),
	}, d.packs.Get(d.cfg.PacksDir))

	resp := &model.HookResponse{}
	var b strings.Builder
	for _, sp := range sel.Packs {
		resp.Packs = append(resp.Packs, sp.Pack.Name)

		if packRules := strings.TrimSpace(sp.Pack.Rules); packRules != "" {
			if d.injected.Add(sp.Pack.Name + "/rules") {
				fmt.Fprintf(&b, "## %s\n%s\n", sp.Pack.Name, packRules)
			}
		}
		for _, l := range sp.Lessons {
			if !d.injected.Add(sp.Pack.Name + "/" + l.Title) {
				continue
			}
			resp.Lessons = append(resp.Lessons, l.Title)
			fmt.Fprintf(&b, "- %s: %s\n", l.Title, l.Actionable)
		}
	}
	resp.Context = strings.TrimSpace(b.String())
	return resp
}

func (d *Daemon) handleApprove(ctx context.Context, req *model.HookRequest) *model.HookResponse {
	res := d.gate.Evaluate(ctx, req.SessionID, req.Tool, req.Command)
	return &model.HookResponse{
		Decision: res.Decision,
		Source:   res.Source,
		Reason:   res.Reason,
	}
}

// guidanceFor returns the per-session guidance log, creating it lazily.
func (d *Daemon) guidanceFor(sessionID string) *session.GuidanceLog {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.guidance[sessionID]
	if !ok {
		g = session.NewGuidanceLog(d.cfg.Scoring.CorrectionWindow)
		d.guidance[sessionID] = g
	}
	return g
}

func (d *Daemon) clearGuidance() {
	d.mu.Lock()
	d.guidance = make(map[string]*session.GuidanceLog)
	d.mu.Unlock()
}
