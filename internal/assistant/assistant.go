// Package assistant implements the judgment-assist engine.
//
// Assist is read/propose only: it never decides, approves, or executes.
// The current engine is a local deterministic stub with per-role templates;
// an LLM-backed provider can replace it behind the same contract.
package assistant

import "time"

// Role selects the assist template.
type Role string

const (
	RoleSummarize        Role = "summarize"
	RoleRiskCountercase  Role = "risk_countercase"
	RoleEvidencePriority Role = "evidence_priority"
)

// Request is a single assist invocation.
type Request struct {
	RequestID     string         `json:"request_id"`
	Role          Role           `json:"role"`
	Prompt        string         `json:"prompt"`
	Context       map[string]any `json:"context,omitempty"`
	TimeboxMillis int            `json:"timebox_ms"`
	MaxTokensHint int            `json:"max_tokens_hint"`
}

// Response carries structured notes for the human operator. It contains no
// decision and no execution side effects.
type Response struct {
	RequestID      string         `json:"request_id"`
	Role           Role           `json:"role"`
	OK             bool           `json:"ok"`
	Summary        string         `json:"summary"`
	Bullets        []string       `json:"bullets"`
	RiskFloorScore int            `json:"risk_floor_score"` // 0-100, lower-bound risk emphasis
	EvidenceCodes  []string       `json:"evidence_codes"`
	ConflictsWith  []string       `json:"conflicts_with"`
	NoveltyScore   float64        `json:"novelty_score"` // 0-1
	Notes          map[string]any `json:"notes,omitempty"`
}

// DefaultTimebox is applied when a request carries no timebox.
const DefaultTimebox = 2500 * time.Millisecond

// Assist produces deterministic role-templated notes for req.
func Assist(req Request) Response {
	if req.TimeboxMillis <= 0 {
		req.TimeboxMillis = int(DefaultTimebox.Milliseconds())
	}

	var (
		summary   string
		bullets   []string
		evidence  []string
		riskFloor int
	)

	switch req.Role {
	case RoleSummarize:
		summary = "Summary: compresses the key context, variables, and current state (no conclusion)."
		bullets = []string{
			"extract the main subjects, conditions, and goals from the prompt",
			"flag uncertain or missing premises",
			"list next-action candidates as proposals only",
		}
		evidence = []string{"CTX", "VAR", "GOAL"}
		riskFloor = 10

	case RoleRiskCountercase:
		summary = "Risk/countercase: orders failure scenarios and counterexamples first (no conclusion)."
		bullets = []string{
			"the three most damaging counterexamples first",
			"check from a tail-risk (p95/p99) perspective",
			"warn about possible state-transition or authority violations",
		}
		evidence = []string{"CC", "TAIL", "SSOT"}
		riskFloor = 35

	case RoleEvidencePriority:
		summary = "Evidence priority: compresses the needed evidence by priority (no conclusion)."
		bullets = []string{
			"classify needed evidence as required/recommended/optional",
			"order by value of information versus time and cost",
			"propose the shortest verification sequence",
		}
		evidence = []string{"EVI", "VOI", "ORDER"}
		riskFloor = 20

	default:
		summary = "Unknown role."
		bullets = []string{"role must be one of: summarize | risk_countercase | evidence_priority"}
		evidence = []string{"ERR_ROLE"}
		riskFloor = 50
	}

	return Response{
		RequestID:      req.RequestID,
		Role:           req.Role,
		OK:             true,
		Summary:        summary,
		Bullets:        bullets,
		RiskFloorScore: clampInt(riskFloor, 0, 100),
		EvidenceCodes:  evidence,
		ConflictsWith:  []string{},
		NoveltyScore:   0.2,
		Notes: map[string]any{
			"provider":   "local_stub",
			"timebox_ms": req.TimeboxMillis,
		},
	}
}

func clampInt(x, lo, hi int) int {
	return max(lo, min(hi, x))
}
