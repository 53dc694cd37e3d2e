package accumulator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfabric/acf/internal/accumulator"
	"github.com/agentfabric/acf/internal/channel"
)

func TestSuggestWaitMs_ChannelDefault(t *testing.T) {
	table := channel.DefaultTable()
	got := accumulator.SuggestWaitMs(accumulator.Input{
		MessageContent: "I need help changing my flight reservation please",
		Channel:        channel.WhatsApp,
	}, table, 0, 5000)
	require.Equal(t, 1200, got)
}

func TestSuggestWaitMs_GreetingNudge(t *testing.T) {
	table := channel.DefaultTable()
	got := accumulator.SuggestWaitMs(accumulator.Input{
		MessageContent: "hi",
		Channel:        channel.SMS,
	}, table, 0, 5000)
	require.Equal(t, 1300, got) // 800 base + 500 greeting nudge
}

func TestSuggestWaitMs_FragmentNudge(t *testing.T) {
	table := channel.DefaultTable()
	got := accumulator.SuggestWaitMs(accumulator.Input{
		MessageContent: "well,",
		Channel:        channel.Web,
	}, table, 0, 5000)
	require.Equal(t, 900, got) // 600 base + 300 fragment nudge
}

func TestSuggestWaitMs_UserCadenceAveraged(t *testing.T) {
	table := channel.DefaultTable()
	cadence := 2000
	got := accumulator.SuggestWaitMs(accumulator.Input{
		MessageContent:   "a longer message with plenty of distinct tokens in it",
		Channel:          channel.WhatsApp,
		UserCadenceP95Ms: &cadence,
	}, table, 0, 5000)
	require.Equal(t, 1600, got) // (1200 + 2000) / 2
}

func TestSuggestWaitMs_PipelineHintOverridesShape(t *testing.T) {
	table := channel.DefaultTable()
	got := accumulator.SuggestWaitMs(accumulator.Input{
		MessageContent: "hi", // would otherwise get the greeting nudge
		Channel:        channel.WhatsApp,
		PipelineHint:   &accumulator.Hint{SuggestedWaitMs: 2500, CompletionConfidence: 0.4},
	}, table, 0, 5000)
	require.Equal(t, 2500, got)
}

func TestSuggestWaitMs_ClampedToMax(t *testing.T) {
	table := channel.DefaultTable()
	got := accumulator.SuggestWaitMs(accumulator.Input{
		MessageContent: "hi",
		Channel:        channel.WhatsApp,
		PipelineHint:   &accumulator.Hint{SuggestedWaitMs: 99999},
	}, table, 0, 3000)
	require.Equal(t, 3000, got)
}

func TestSuggestWaitMs_ClampedToMin(t *testing.T) {
	table := channel.DefaultTable()
	got := accumulator.SuggestWaitMs(accumulator.Input{
		MessageContent: "a fully formed sentence with no fragment markers at all",
		Channel:        channel.Email,
	}, table, 200, 5000)
	require.Equal(t, 200, got)
}

func TestSuggestWaitMs_NeverBlocks(t *testing.T) {
	// Deterministic and pure: two calls with identical inputs must return
	// identical output (spec.md §4.5 "pure and deterministic").
	table := channel.DefaultTable()
	in := accumulator.Input{MessageContent: "hello there, how are you doing today", Channel: channel.Web}
	a := accumulator.SuggestWaitMs(in, table, 0, 5000)
	b := accumulator.SuggestWaitMs(in, table, 0, 5000)
	require.Equal(t, a, b)
}
