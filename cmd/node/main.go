package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otc-labs/otcx/params"
	"github.com/otc-labs/otcx/pkg/api"
	"github.com/otc-labs/otcx/pkg/exchange"
	"github.com/otc-labs/otcx/pkg/exchange/asset"
	exchorder "github.com/otc-labs/otcx/pkg/exchange/order"
	"github.com/otc-labs/otcx/pkg/exchange/pair"
	"github.com/otc-labs/otcx/pkg/exchange/trader"
	"github.com/otc-labs/otcx/pkg/notify"
	"github.com/otc-labs/otcx/pkg/storage"
	"github.com/otc-labs/otcx/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Persistence ----
	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "exchange"))
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer store.Close()

	// ---- Exchange state ----
	ledger, err := asset.NewLedger(store)
	if err != nil {
		sugar.Fatalw("ledger_load_failed", "err", err)
	}
	registry, err := pair.NewRegistry(store)
	if err != nil {
		sugar.Fatalw("pair_registry_load_failed", "err", err)
	}
	orders, err := exchorder.NewStore(store)
	if err != nil {
		sugar.Fatalw("order_store_load_failed", "err", err)
	}
	sugar.Infow("state_loaded", "open_orders", orders.Count(), "pairs", registry.Count())

	// ---- Roles ----
	roles := trader.NewOperators()
	for _, s := range cfg.Node.Operators {
		if !common.IsHexAddress(s) {
			sugar.Fatalw("invalid_operator_address", "addr", s)
		}
		roles.AddOperator(common.HexToAddress(s))
	}
	for _, s := range cfg.Node.Traders {
		if !common.IsHexAddress(s) {
			sugar.Fatalw("invalid_trader_address", "addr", s)
		}
		roles.AddTrader(common.HexToAddress(s))
	}
	sugar.Infow("roles_configured",
		"operators", len(cfg.Node.Operators),
		"traders", len(cfg.Node.Traders))

	// ---- Engine + notifiers ----
	notifiers := exchange.MultiNotifier{notify.NewLogNotifier(sugar)}
	if cfg.Kafka.Enabled {
		kn := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, sugar)
		defer kn.Close()
		notifiers = append(notifiers, kn)
		sugar.Infow("kafka_notifier_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	engine := exchange.NewEngine(exchange.Config{
		Registry:       registry,
		Ledger:         ledger,
		Orders:         orders,
		Traders:        roles,
		Operators:      roles,
		Clock:          util.RealClock{},
		MinBatchOrders: cfg.Engine.MinBatchOrders,
		MaxBatchOrders: cfg.Engine.MaxBatchOrders,
		Logger:         sugar,
	})

	// ---- API Server ----
	apiServer := api.NewServer(engine, cfg.API.AllowedOrigins, sugar)
	notifiers = append(notifiers, apiServer.Notifier())
	engine.SetNotifier(notifiers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started",
		"api_addr", cfg.API.ListenAddr,
		"batch_min", cfg.Engine.MinBatchOrders,
		"batch_max", cfg.Engine.MaxBatchOrders)

	<-ctx.Done()
	sugar.Info("shutting down")
}
