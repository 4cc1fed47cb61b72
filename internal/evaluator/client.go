// Package evaluator wraps a remote LLM-style decision endpoint with a
// per-call timeout, a cost-capped ledger, idle-session lifecycle, and a
// confidence floor. Every failure mode resolves to "ask", never "allow".
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pkondratev/packwatch/internal/config"
	"github.com/pkondratev/packwatch/internal/model"
)

const systemPrompt = `You are a command safety evaluator for a coding-agent session. You receive one shell command and optional context, and must decide whether the command is safe to run automatically.

Decisions:
- allow: clearly safe, no destructive or irreversible effect
- deny: destructive, exfiltrating, or otherwise dangerous
- ask: anything uncertain — when in doubt, ask

Return ONLY valid JSON, no markdown fences, no commentary:
{"decision":"allow|deny|ask","reason":"<one line>","confidence":0.0,"suggest_rule":{"type":"prefix|contains|regex","pattern":"<pattern>","reason":"<why>"}}

The suggest_rule field is optional — include it only for allow decisions that generalize to a safe command family.`

// Verdict is the evaluator's answer for one command, after downgrade.
type Verdict struct {
	Decision   model.Decision
	Source     model.Source
	Reason     string
	Confidence float64
	Suggestion *model.RuleSuggestion
}

// Client calls the remote decision endpoint.
type Client struct {
	cfg    config.EvaluatorConfig
	apiKey string
	ledger *Ledger
	http   *http.Client
	log    *zap.Logger
}

// New creates a client with its own warm-period ledger.
func New(cfg config.EvaluatorConfig, apiKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		ledger: NewLedger(cfg.MaxCostUSD, cfg.IdleReset),
		http:   &http.Client{},
		log:    log,
	}
}

// Ledger exposes the cost ledger for lifecycle teardown.
func (c *Client) Ledger() *Ledger { return c.ledger }

// wire types for the OpenAI-compatible chat endpoint.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// verdictPayload is the strict JSON the model must return.
type verdictPayload struct {
	Decision    string `json:"decision"`
	Reason      string `json:"reason"`
	Confidence  float64 `json:"confidence"`
	SuggestRule *struct {
		Type    string `json:"type"`
		Pattern string `json:"pattern"`
		Reason  string `json:"reason"`
	} `json:"suggest_rule"`
}

// Evaluate decides one command. Budget exhaustion short-circuits before
// any network call; timeout and transport errors fail closed to ask.
func (c *Client) Evaluate(ctx context.Context, command, evalContext string) Verdict {
	if !c.ledger.Arm() {
		return Verdict{
			Decision: model.Ask,
			Source:   model.SourceError,
			Reason:   fmt.Sprintf("evaluation budget exhausted (%.2f USD)", c.ledger.Spent()),
		}
	}

	verdict, cost, err := c.call(ctx, command, evalContext)
	c.ledger.Charge(cost)
	if err != nil {
		c.log.Warn("remote evaluation failed", zap.String("command", command), zap.Error(err))
		return Verdict{Decision: model.Ask, Source: model.SourceError, Reason: "remote evaluation failed: " + err.Error()}
	}

	if verdict.Confidence < c.cfg.MinConfidence && verdict.Decision != model.Ask {
		verdict.Reason = fmt.Sprintf("low confidence (%.2f): %s", verdict.Confidence, verdict.Reason)
		verdict.Decision = model.Ask
	}
	return verdict
}

func (c *Client) call(ctx context.Context, command, evalContext string) (Verdict, float64, error) {
	user := "Command: " + command
	if evalContext != "" {
		user += "\nContext: " + evalContext
	}

	body, _ := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens:   300,
		Temperature: 0,
	})

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, 0, fmt.Errorf("evaluation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, c.cfg.FlatCallCost, fmt.Errorf("evaluation HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return Verdict{}, c.cfg.FlatCallCost, fmt.Errorf("parse evaluation response: %w", err)
	}

	cost := c.cfg.FlatCallCost
	if chat.Usage.TotalTokens > 0 {
		cost = float64(chat.Usage.TotalTokens) / 1000 * c.cfg.CostPer1KTokens
	}

	if len(chat.Choices) == 0 {
		return Verdict{}, cost, fmt.Errorf("evaluation response has no choices")
	}

	verdict, err := parseVerdict(chat.Choices[0].Message.Content)
	return verdict, cost, err
}

// parseVerdict decodes the model's strict-JSON answer, tolerating
// accidental markdown fences.
func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var p verdictPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return Verdict{}, fmt.Errorf("unparseable verdict %q: %w", content, err)
	}

	var decision model.Decision
	switch p.Decision {
	case "allow":
		decision = model.Allow
	case "deny":
		decision = model.Deny
	case "ask":
		decision = model.Ask
	default:
		return Verdict{}, fmt.Errorf("unknown decision %q", p.Decision)
	}

	v := Verdict{
		Decision:   decision,
		Source:     model.SourceLLM,
		Reason:     p.Reason,
		Confidence: p.Confidence,
	}
	if p.SuggestRule != nil && p.SuggestRule.Pattern != "" {
		v.Suggestion = &model.RuleSuggestion{
			Type:    p.SuggestRule.Type,
			Pattern: p.SuggestRule.Pattern,
			Reason:  p.SuggestRule.Reason,
		}
	}
	return v, nil
}
