// Package session implements the Session aggregate (spec.md §3), the
// per-session exclusive fencing mutex (C1, spec.md §4.1), and the two-tier
// hot/persistent store (C2, spec.md §4.2).
//
// Grounded on the teacher's internal/workflow/state.go (a single mutable
// struct carried across a durable run) and internal/models/errors.go
// (typed, classified errors) — generalized from one conversation's
// in-process state to a cross-process, fenced, persisted aggregate.
package session

import "time"

// Key is the composite session identity: tenant:agent:interlocutor:channel.
// It is the unit of single-writer discipline and of all lock/index keys
// (spec.md §3).
type Key string

// NewKey builds the composite session key from its four parts.
func NewKey(tenantID, agentID, interlocutorID, channel string) Key {
	return Key(tenantID + ":" + agentID + ":" + interlocutorID + ":" + channel)
}

// Status is the Session lifecycle status (spec.md §3).
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusIdle        Status = "IDLE"
	StatusProcessing  Status = "PROCESSING"
	StatusInterrupted Status = "INTERRUPTED"
	StatusClosed      Status = "CLOSED"
)

// StepHistoryEntry records one scenario-step transition. Entries are
// appended only after a successful COMMIT (spec.md §3 invariant).
type StepHistoryEntry struct {
	StepID     string    `json:"step_id"`
	EnteredAt  time.Time `json:"entered_at"`
	TurnNumber int       `json:"turn_number"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
}

// Session is the persistent, mutable conversation aggregate (spec.md §3).
type Session struct {
	SessionKey     Key    `json:"session_key"`
	TenantID       string `json:"tenant_id"`
	AgentID        string `json:"agent_id"`
	InterlocutorID string `json:"interlocutor_id"`
	Channel        string `json:"channel"`

	Status Status `json:"status"`

	ActiveScenarioID      *string `json:"active_scenario_id,omitempty"`
	ActiveStepID          *string `json:"active_step_id,omitempty"`
	ActiveScenarioVersion *int    `json:"active_scenario_version,omitempty"`

	StepHistory []StepHistoryEntry `json:"step_history,omitempty"`

	Variables          map[string]any       `json:"variables,omitempty"`
	VariableUpdatedAt  map[string]time.Time `json:"variable_updated_at,omitempty"`

	RuleFires        map[string]int `json:"rule_fires,omitempty"`
	RuleLastFireTurn map[string]int `json:"rule_last_fire_turn,omitempty"`

	TurnCount        int    `json:"turn_count"`
	ConfigVersion    int    `json:"config_version"`
	PendingMigration *string `json:"pending_migration,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// FencingToken is the last token this Session was written with. Stores
	// reject writes whose token is not strictly greater (spec.md §4.1, §5).
	FencingToken uint64 `json:"fencing_token"`

	// PipelineHintWaitMs/PipelineHintConfidence carry the prior turn's
	// Brain-emitted FollowupHint across the turn boundary, since the
	// accumulator needs it when the Gateway starts the *next* turn's
	// workflow, not the one that produced it (spec.md §4.5 point 4).
	PipelineHintWaitMs    *int     `json:"pipeline_hint_wait_ms,omitempty"`
	PipelineHintConfidence *float64 `json:"pipeline_hint_confidence,omitempty"`

	// UserCadenceP95Ms is a running estimate of this interlocutor's
	// inter-message arrival gap, blended in at each commit (spec.md §4.5
	// point 3).
	UserCadenceP95Ms *int `json:"user_cadence_p95_ms,omitempty"`
}

// NewSession constructs a fresh Session in ACTIVE status.
func NewSession(key Key, tenantID, agentID, interlocutorID, channel string, now time.Time) *Session {
	return &Session{
		SessionKey:        key,
		TenantID:          tenantID,
		AgentID:           agentID,
		InterlocutorID:    interlocutorID,
		Channel:           channel,
		Status:            StatusActive,
		Variables:         map[string]any{},
		VariableUpdatedAt: map[string]time.Time{},
		RuleFires:         map[string]int{},
		RuleLastFireTurn:  map[string]int{},
		CreatedAt:         now,
		LastActivityAt:    now,
	}
}

// SetVariable records a variable update and its timestamp together, so the
// two maps never drift out of sync.
func (s *Session) SetVariable(key string, value any, now time.Time) {
	if s.Variables == nil {
		s.Variables = map[string]any{}
	}
	if s.VariableUpdatedAt == nil {
		s.VariableUpdatedAt = map[string]time.Time{}
	}
	s.Variables[key] = value
	s.VariableUpdatedAt[key] = now
}

// RecordRuleFire increments a rule's fire counter and records the turn it
// last fired on.
func (s *Session) RecordRuleFire(ruleID string, turnNumber int) {
	if s.RuleFires == nil {
		s.RuleFires = map[string]int{}
	}
	if s.RuleLastFireTurn == nil {
		s.RuleLastFireTurn = map[string]int{}
	}
	s.RuleFires[ruleID]++
	s.RuleLastFireTurn[ruleID] = turnNumber
}

// AppendStepHistory appends a scenario-step transition. Callers MUST only
// call this after a turn has successfully committed (spec.md §3 invariant).
func (s *Session) AppendStepHistory(entry StepHistoryEntry) {
	s.StepHistory = append(s.StepHistory, entry)
}

// Clone returns a deep-enough copy for safe mutation by a caller that must
// not affect the stored copy (e.g. a hot-tier cache entry) until a Save.
func (s *Session) Clone() *Session {
	cp := *s
	cp.StepHistory = append([]StepHistoryEntry(nil), s.StepHistory...)
	cp.Variables = cloneAnyMap(s.Variables)
	cp.VariableUpdatedAt = cloneTimeMap(s.VariableUpdatedAt)
	cp.RuleFires = cloneIntMap(s.RuleFires)
	cp.RuleLastFireTurn = cloneIntMap(s.RuleLastFireTurn)
	return &cp
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTimeMap(m map[string]time.Time) map[string]time.Time {
	if m == nil {
		return nil
	}
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
