// Package accumulator implements the Adaptive Accumulator (C5, spec.md
// §4.5): a pure, deterministic function computing how long the Gateway's
// workflow should keep waiting for more fragments of the same logical
// turn before running the pipeline.
//
// Grounded on the teacher's internal/workflow/control.go wait-gating
// style (a single pure decision feeding a workflow.Await deadline) but
// implemented here as ordinary, non-workflow code so it can be unit
// tested with an injected clock (internal/acfclock) instead of the
// Temporal test harness.
package accumulator

import (
	"strings"
	"unicode"

	"github.com/agentfabric/acf/internal/channel"
)

// Hint is the optional pipeline hint emitted by the Brain on commit of the
// previous turn (spec.md §4.5 point 4).
type Hint struct {
	SuggestedWaitMs    int
	CompletionConfidence float64
}

// Input bundles suggest_wait_ms's parameters (spec.md §4.5).
type Input struct {
	MessageContent    string
	Channel           channel.Name
	UserCadenceP95Ms  *int
	PipelineHint      *Hint
}

// SuggestWaitMs computes the accumulation deadline extension in
// milliseconds, clamped to [min_wait, max_wait]. Pure and deterministic;
// must never block (spec.md §4.5).
func SuggestWaitMs(in Input, table channel.Table, minWaitMs, maxWaitMs int) int {
	model := table.Get(in.Channel)
	base := float64(model.DefaultTurnWindow.Milliseconds())

	if in.PipelineHint != nil {
		// A pipeline hint overrides shape-based nudges but remains clamped
		// (spec.md §4.5 point 4).
		base = float64(in.PipelineHint.SuggestedWaitMs)
	} else {
		base += shapeNudgeMs(in.MessageContent)
	}

	if in.UserCadenceP95Ms != nil {
		base = (base + float64(*in.UserCadenceP95Ms)) / 2
	}

	return clamp(int(base), minWaitMs, maxWaitMs)
}

// shapeNudgeMs implements spec.md §4.5 point 2: greeting-only → +500ms,
// fragment (trailing comma/ellipsis, <3 tokens) → +300ms, otherwise 0.
func shapeNudgeMs(content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}
	if isGreetingOnly(trimmed) {
		return 500
	}
	if isFragment(trimmed) {
		return 300
	}
	return 0
}

var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true,
	"hiya": true, "sup": true, "morning": true, "evening": true,
}

func isGreetingOnly(s string) bool {
	word := strings.ToLower(strings.Trim(s, " !.,"))
	return greetings[word]
}

func isFragment(s string) bool {
	trimmedTrailingPunct := strings.HasSuffix(s, ",") || strings.HasSuffix(s, "...") || strings.HasSuffix(s, "…")
	return trimmedTrailingPunct || tokenCount(s) < 3
}

func tokenCount(s string) int {
	return len(strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	}))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
