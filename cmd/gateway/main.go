// Gateway executable for ACF: the lock-free Turn Gateway HTTP surface
// (C6, spec.md §4.6), backed by the two-tier Session store, the Turn
// store, the idempotency layer, and a Temporal client for starting and
// signaling LogicalTurnWorkflow runs.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

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
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
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

	wfClient := acfworkflow.NewTemporalWorkflowClient(tc)

	gw := gateway.New(sessions, turns, idem, channel.DefaultTable(), wfClient, gateway.PolicyAdvisor{}, rdb)
	handler := gateway.NewHTTPHandler(gw, mutex, logger)

	logger.Info("gateway listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, handler.Routes()); err != nil {
		logger.Fatal("gateway server stopped", zap.Error(err))
	}
}
