// Package gate implements the layered command decision pipeline.
//
// Evaluation order (must not be changed):
//  1. Allowlist — first match is terminal allow
//  2. Denylist — first match is terminal deny
//  3. Learned rules — first match is terminal allow, re-checked
//     against the deny list so later deny edits take precedence
//  4. Remote evaluation — cost/time bounded, deduplicated per key
//
// Static rules run before any remote call to bound cost and latency;
// the denylist runs strictly before learned rules so a newly added deny
// pattern overrides any previously learned broad approval.
package gate

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pkondratev/packwatch/internal/audit"
	"github.com/pkondratev/packwatch/internal/evaluator"
	"github.com/pkondratev/packwatch/internal/metrics"
	"github.com/pkondratev/packwatch/internal/model"
	"github.com/pkondratev/packwatch/internal/rules"
)

// Evaluator is the remote decision dependency.
type Evaluator interface {
	Evaluate(ctx context.Context, command, evalContext string) evaluator.Verdict
}

// Gate composes the rule store and remote evaluator into the ordered
// decision procedure.
type Gate struct {
	store    *rules.Store
	remote   Evaluator
	log      *zap.Logger
	audit    *audit.Log
	recorder *metrics.Recorder
	flight   singleflight.Group

	// settled caches remote decisions for the daemon's lifetime so a
	// later identical command never independently re-evaluates a
	// decision already settled for an earlier caller. Error-sourced
	// results are not cached — transient failures may retry.
	mu      sync.RWMutex
	settled map[string]model.EvalResult
}

// New creates a gate. The audit log and recorder may be nil in tests.
func New(store *rules.Store, remote Evaluator, auditLog *audit.Log, recorder *metrics.Recorder, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		store:    store,
		remote:   remote,
		log:      log,
		audit:    auditLog,
		recorder: recorder,
		settled:  make(map[string]model.EvalResult),
	}
}

// ClearSettled drops cached remote decisions, typically on rule reload
// or last-session teardown.
func (g *Gate) ClearSettled() {
	g.mu.Lock()
	g.settled = make(map[string]model.EvalResult)
	g.mu.Unlock()
}

// Evaluate gates one command. Exactly one decision record is produced
// per settled evaluation; concurrent identical commands share a single
// remote call and receive the identical decision.
func (g *Gate) Evaluate(ctx context.Context, sessionID, tool, command string) model.EvalResult {
	if r := g.store.MatchAllow(command); r != nil {
		res := model.EvalResult{Decision: model.Allow, Source: model.SourceAllowlist, Reason: r.Reason}
		g.record(sessionID, tool, command, res)
		return res
	}

	if r := g.store.MatchDeny(command); r != nil {
		res := model.EvalResult{Decision: model.Deny, Source: model.SourceDenylist, Reason: r.Reason}
		g.record(sessionID, tool, command, res)
		return res
	}

	if r := g.store.MatchLearned(command); r != nil {
		// Deny edits made after a rule was learned retroactively win.
		if hit := g.store.MatchDeny(r.Pattern); hit == nil {
			res := model.EvalResult{Decision: model.Allow, Source: model.SourceLearned, Reason: r.Reason}
			g.record(sessionID, tool, command, res)
			return res
		}
	}

	return g.evaluateRemote(ctx, sessionID, tool, command)
}

// evaluateRemote delegates to the remote evaluator through a per-key
// serialization point: the first caller performs the call and all
// concurrent waiters on the same key receive the identical result.
func (g *Gate) evaluateRemote(ctx context.Context, sessionID, tool, command string) model.EvalResult {
	key := tool + "\x00" + command

	g.mu.RLock()
	cached, ok := g.settled[key]
	g.mu.RUnlock()
	if ok {
		g.record(sessionID, tool, command, cached)
		return cached
	}

	ch := g.flight.DoChan(key, func() (any, error) {
		// Detached from the caller's context: a timed-out caller must
		// not cancel work that will seed later waiters on this key.
		v := g.remote.Evaluate(context.WithoutCancel(ctx), command, "tool="+tool)
		res := model.EvalResult{
			Decision:   v.Decision,
			Source:     v.Source,
			Reason:     v.Reason,
			Suggestion: v.Suggestion,
		}
		if res.Source != model.SourceError {
			g.mu.Lock()
			g.settled[key] = res
			g.mu.Unlock()
		}
		// The leader records once; waiters share the settled decision.
		g.record(sessionID, tool, command, res)
		return res, nil
	})

	select {
	case r := <-ch:
		res := r.Val.(model.EvalResult)
		return res
	case <-ctx.Done():
		res := model.AskResult("evaluation timed out")
		g.record(sessionID, tool, command, res)
		return res
	}
}

func (g *Gate) record(sessionID, tool, command string, res model.EvalResult) {
	if g.recorder != nil {
		g.recorder.Count(sessionID, res)
	}
	if g.audit != nil {
		if err := g.audit.Record(audit.Entry{
			SessionID: sessionID,
			Tool:      tool,
			Command:   command,
			Decision:  string(res.Decision),
			Source:    string(res.Source),
			Reason:    res.Reason,
		}); err != nil {
			g.log.Warn("failed to record decision", zap.Error(err))
		}
	}
	g.log.Debug("gate decision",
		zap.String("command", command),
		zap.String("decision", string(res.Decision)),
		zap.String("source", string(res.Source)))
}
