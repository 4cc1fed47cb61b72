package model

import (
	"encoding/json"
	"fmt"
)

// HookType discriminates inbound hook requests. Closed set — unknown tags
// are rejected at the boundary and answered with a neutral response.
type HookType string

const (
	HookSessionStart HookType = "session_start"
	HookSessionEnd   HookType = "session_end"
	HookInject       HookType = "inject"
	HookApprove      HookType = "approve"
	HookGuidance     HookType = "guidance"
	HookCompact      HookType = "compact"
)

// HookRequest is one JSON document received over the daemon socket.
// Payload fields are hook-type specific; irrelevant fields are ignored.
type HookRequest struct {
	Hook      HookType `json:"hook"`
	SessionID string   `json:"session_id"`
	Tool      string   `json:"tool,omitempty"`
	Command   string   `json:"command,omitempty"`
	FilePath  string   `json:"file_path,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
}

// HookResponse is the JSON document written back. A zero value is the
// neutral response: no injected context, no decision.
type HookResponse struct {
	Context  string   `json:"context,omitempty"`
	Packs    []string `json:"packs,omitempty"`
	Lessons  []string `json:"lessons,omitempty"`
	Decision Decision `json:"decision,omitempty"`
	Source   Source   `json:"source,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// knownHooks is the closed set of accepted hook types.
var knownHooks = map[HookType]bool{
	HookSessionStart: true,
	HookSessionEnd:   true,
	HookInject:       true,
	HookApprove:      true,
	HookGuidance:     true,
	HookCompact:      true,
}

// ParseRequest decodes and validates one hook request.
func ParseRequest(data []byte) (*HookRequest, error) {
	var req HookRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("malformed hook request: %w", err)
	}
	if !knownHooks[req.Hook] {
		return nil, fmt.Errorf("unknown hook type %q", req.Hook)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("hook request missing session_id")
	}
	return &req, nil
}
