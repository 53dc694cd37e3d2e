package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// decisionsTotal counts every TurnDecision the Gateway emits, labeled by
// kind — the operational signal for how often sessions are being
// superseded vs queued vs freshly accumulated (spec.md §4.6).
var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "acf_gateway_decisions_total",
	Help: "Count of Turn Gateway decisions by kind.",
}, []string{"decision"})

// overflowRejectionsTotal counts messages rejected by a per-session
// overflow queue at capacity (spec.md §4.6 "rejects with backpressure").
var overflowRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "acf_gateway_overflow_rejections_total",
	Help: "Count of inbound messages rejected due to overflow-queue backpressure.",
})

func observeDecision(kind DecisionKind) {
	decisionsTotal.WithLabelValues(string(kind)).Inc()
}
