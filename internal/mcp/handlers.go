package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pkondratev/packwatch/internal/relevance"
	"github.com/pkondratev/packwatch/internal/rules"
)

// --- Input/Output types ---

// CheckInput defines parameters for the packwatch_check tool.
type CheckInput struct {
	Tool    string `json:"tool,omitempty" jsonschema:"tool invoking the command (defaults to Bash)"`
	Command string `json:"command" jsonschema:"shell command to evaluate"`
}

// CheckOutput contains the gate decision.
type CheckOutput struct {
	Decision string `json:"decision"`
	Source   string `json:"source"`
	Reason   string `json:"reason,omitempty"`
}

// PacksInput defines parameters for the packwatch_packs tool.
type PacksInput struct {
	FilePath string   `json:"file_path" jsonschema:"file path being worked on"`
	Guidance []string `json:"guidance,omitempty" jsonschema:"recent guidance categories"`
}

// PacksOutput lists the qualifying packs with their selected lessons.
type PacksOutput struct {
	Packs []PackItem `json:"packs"`
}

// PackItem is one scored pack.
type PackItem struct {
	Name    string   `json:"name"`
	Score   int      `json:"score"`
	Lessons []string `json:"lessons,omitempty"`
}

// LearnInput defines parameters for the packwatch_learn tool.
type LearnInput struct {
	ID      string `json:"id" jsonschema:"rule identifier"`
	Type    string `json:"type" jsonschema:"match kind (prefix/contains/regex)"`
	Pattern string `json:"pattern" jsonschema:"pattern the rule matches"`
	Reason  string `json:"reason,omitempty" jsonschema:"why this command family is safe"`
}

// LearnOutput confirms the persisted rule.
type LearnOutput struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// --- Handlers ---

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	tool := input.Tool
	if tool == "" {
		tool = "Bash"
	}
	res := s.gate.Evaluate(ctx, "mcp", tool, input.Command)
	return nil, CheckOutput{
		Decision: string(res.Decision),
		Source:   string(res.Source),
		Reason:   res.Reason,
	}, nil
}

func (s *Server) handlePacks(ctx context.Context, req *mcpsdk.CallToolRequest, input PacksInput) (*mcpsdk.CallToolResult, PacksOutput, error) {
	sel := s.scorer.Score(relevance.Context{
		FilePath: input.FilePath,
		Guidance: input.Guidance,
	}, s.packs.Get(s.cfg.PacksDir))

	out := PacksOutput{}
	for _, sp := range sel.Packs {
		item := PackItem{Name: sp.Pack.Name, Score: sp.Score}
		for _, l := range sp.Lessons {
			item.Lessons = append(item.Lessons, l.Title)
		}
		out.Packs = append(out.Packs, item)
	}
	return nil, out, nil
}

func (s *Server) handleLearn(ctx context.Context, req *mcpsdk.CallToolRequest, input LearnInput) (*mcpsdk.CallToolResult, LearnOutput, error) {
	rule := rules.Rule{
		ID:      input.ID,
		Type:    input.Type,
		Pattern: input.Pattern,
		Reason:  input.Reason,
	}
	if err := s.store.AppendLearned(rule); err != nil {
		out := LearnOutput{ID: input.ID, Accepted: false, Reason: err.Error()}
		if errors.Is(err, rules.ErrDenyConflict) {
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, LearnOutput{}, err
	}
	return nil, LearnOutput{ID: input.ID, Accepted: true}, nil
}
