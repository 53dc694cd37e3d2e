// Worker executable for ACF: a Temporal worker running LogicalTurnWorkflow
// and its backing activities (C7, spec.md §4.7), wired against the same
// Redis/Postgres stores the Gateway uses.
//
// Adapted from the teacher's cmd/worker/main.go (client.Dial + task-queue
// registration shape), generalized from a single long-running
// AgenticWorkflow/continuation pair to ACF's one-workflow-per-turn model.
package main

import (
	"flag"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/agentfabric/acf/internal/audit"
	"github.com/agentfabric/acf/internal/brain"
	"github.com/agentfabric/acf/internal/channel"
	"github.com/agentfabric/acf/internal/config"
	"github.com/agentfabric/acf/internal/gateway"
	"github.com/agentfabric/acf/internal/idempotency"
	"github.com/agentfabric/acf/internal/session"
	"github.com/agentfabric/acf/internal/temporalclient"
	"github.com/agentfabric/acf/internal/turn"
	acfworkflow "github.com/agentfabric/acf/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional, defaults used if absent)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	db, err := session.Open(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer db.Close()

	hot := session.NewHotStore(rdb, cfg.SessionStore.HotTTL)
	dura := session.NewDurableStore(db)
	index := session.NewIndexStore(rdb)
	sessions := session.NewStore(hot, dura, index)

	turns := turn.NewStore(db)
	idem := idempotency.NewStore(rdb)
	auditSink := audit.NewSink(db)
	mutex := session.NewMutex(rdb)

	temporalOpts, err := temporalclient.LoadClientOptions(cfg.TemporalHost, "")
	if err != nil {
		logger.Fatal("failed to load temporal client options", zap.Error(err))
	}
	tc, err := client.Dial(temporalOpts)
	if err != nil {
		logger.Fatal("failed to dial temporal", zap.Error(err))
	}
	defer tc.Close()

	w := worker.New(tc, acfworkflow.TaskQueue, worker.Options{})
	w.RegisterWorkflow(acfworkflow.LogicalTurnWorkflow)

	// The Brain's real implementation is out of scope (spec.md §1, §4.8:
	// ACF owns the interface, not the model-calling collaborator behind
	// it); NewTestBrain here is a stand-in for whatever phase sequence an
	// operator plugs in, following the same pattern as the teacher's own
	// llm.LLMClient being provider-agnostic at its boundary.
	b := brain.NewTestBrain(nil, nil, nil)

	wfClient := acfworkflow.NewTemporalWorkflowClient(tc)

	mutexActivities := &acfworkflow.MutexActivities{Mutex: mutex}
	brainActivities := acfworkflow.NewBrainActivities(b)
	commitActivities := &acfworkflow.CommitActivities{
		Sessions: sessions, Turns: turns, Idem: idem, Audit: auditSink,
		BeatTTL: cfg.Idempotency.BeatTTL,
	}
	supersedeActivities := &acfworkflow.SupersedeActivities{Turns: turns, WF: wfClient}

	// The worker needs its own Gateway handle — not to serve HTTP, only to
	// reach the same Redis-backed overflow queue the Gateway process parks
	// QUEUE decisions on, so DrainOverflow can pull from it once a turn
	// reaches a terminal phase (spec.md §4.7 Step D, §8 scenario 3).
	gw := gateway.New(sessions, turns, idem, channel.DefaultTable(), wfClient, gateway.PolicyAdvisor{}, rdb)
	overflowActivities := &acfworkflow.OverflowActivities{GW: gw}

	w.RegisterActivity(mutexActivities.AcquireMutex)
	w.RegisterActivity(mutexActivities.RenewMutex)
	w.RegisterActivity(mutexActivities.ReleaseMutex)
	w.RegisterActivity(brainActivities.DescribeBrain)
	w.RegisterActivity(brainActivities.ExecuteBrainPhase)
	w.RegisterActivity(brainActivities.DecideSupersede)
	w.RegisterActivity(brainActivities.SummarizeForFollowup)
	w.RegisterActivity(commitActivities.CommitTurn)
	w.RegisterActivity(commitActivities.AbortTurn)
	w.RegisterActivity(supersedeActivities.SpawnSuccessor)
	w.RegisterActivity(overflowActivities.DrainOverflow)

	logger.Info("worker starting", zap.String("task_queue", acfworkflow.TaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
}
