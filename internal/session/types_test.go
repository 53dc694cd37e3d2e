package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/session"
)

func TestNewKey_CompositeFormat(t *testing.T) {
	key := session.NewKey("acme", "support-bot", "user-42", "whatsapp")
	require.Equal(t, session.Key("acme:support-bot:user-42:whatsapp"), key)
}

func TestSetVariable_KeepsValueAndTimestampInSync(t *testing.T) {
	now := time.Unix(100, 0)
	s := session.NewSession(session.Key("k"), "t", "a", "i", "c", now)

	later := now.Add(time.Minute)
	s.SetVariable("shipping_zip", "94110", later)

	require.Equal(t, "94110", s.Variables["shipping_zip"])
	require.Equal(t, later, s.VariableUpdatedAt["shipping_zip"])
}

func TestRecordRuleFire_IncrementsAndTracksLastTurn(t *testing.T) {
	s := session.NewSession(session.Key("k"), "t", "a", "i", "c", time.Unix(0, 0))

	s.RecordRuleFire("discount_nudge", 3)
	s.RecordRuleFire("discount_nudge", 5)

	require.Equal(t, 2, s.RuleFires["discount_nudge"])
	require.Equal(t, 5, s.RuleLastFireTurn["discount_nudge"])
}

func TestClone_IsIndependentOfOriginal(t *testing.T) {
	s := session.NewSession(session.Key("k"), "t", "a", "i", "c", time.Unix(0, 0))
	s.SetVariable("x", 1, time.Unix(1, 0))
	s.RecordRuleFire("r", 1)
	s.AppendStepHistory(session.StepHistoryEntry{StepID: "step-1"})

	cp := s.Clone()
	cp.SetVariable("x", 2, time.Unix(2, 0))
	cp.RecordRuleFire("r", 2)
	cp.StepHistory[0].StepID = "mutated"

	require.Equal(t, 1, s.Variables["x"])
	require.Equal(t, 1, s.RuleFires["r"])
	require.Equal(t, "step-1", s.StepHistory[0].StepID)
}
