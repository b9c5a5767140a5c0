package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	internalaws "github.com/x402casper/relay/internal/aws"
	"github.com/x402casper/relay/internal/casper"
	"github.com/x402casper/relay/internal/handlers"
	"github.com/x402casper/relay/internal/relay"
	"github.com/x402casper/relay/internal/replay"
	"github.com/x402casper/relay/internal/settlements"
	"github.com/x402casper/relay/pkg/logging"
)

const version = "0.1.0"

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.RegisterRelayRoutes(r, cfg)

	return r
}

func main() {
	logging.Setup()
	ctx := context.Background()

	chainName := envDefault("CHAIN_NAME", "casper-test")
	contractHash := os.Getenv("CONTRACT_HASH")
	if contractHash == "" {
		fatal("CONTRACT_HASH is required")
	}

	keys := loadRelayKeys()

	node := casper.NewClient(
		envDefault("NODE_ADDRESS", "http://localhost:7777/rpc"),
		os.Getenv("NODE_AUTH_TOKEN"),
		envDuration("NODE_TIMEOUT_MS", 30*time.Second),
	)

	builder, err := casper.NewDeployBuilder(
		keys,
		chainName,
		contractHash,
		os.Getenv("RECIPIENT_ACCOUNT"),
		envUint("PAYMENT_AMOUNT_MOTES", 2_500_000_000), // 2.5 CSPR per settlement
		envDuration("DEADLINE_WINDOW_MS", 30*time.Minute),
		envDuration("DEPLOY_TTL_MS", 30*time.Minute),
	)
	if err != nil {
		fatal("failed to build deploy builder", "error", err)
	}

	var (
		guard   replay.Guard
		store   settlements.Store
		queue   relay.MonitorQueue
		metrics relay.MetricsRecorder
	)

	nonceTable := os.Getenv("NONCE_TABLE")
	settlementsTable := os.Getenv("SETTLEMENTS_TABLE")
	if nonceTable != "" && settlementsTable != "" {
		clients, err := internalaws.NewAWSClients(ctx)
		if err != nil {
			fatal("failed to init aws clients", "error", err)
		}
		guard = replay.NewDynamoStore(clients.DynamoDB, nonceTable)
		store = settlements.NewDynamoStore(clients.DynamoDB, settlementsTable)
		if queueURL := os.Getenv("MONITOR_QUEUE_URL"); queueURL != "" {
			queue = internalaws.NewPublisher(clients.SQS, queueURL)
		}
		metrics = internalaws.NewRecorder(clients.CloudWatch, os.Getenv("METRICS_NAMESPACE"))
	} else {
		slog.Warn("NONCE_TABLE/SETTLEMENTS_TABLE not set, using in-memory stores (single instance only)")
		guard = replay.NewRegistry()
		store = settlements.NewMemoryStore()
	}

	monitor := relay.NewMonitor(node,
		envDuration("MONITOR_INTERVAL_MS", 2*time.Second),
		envDuration("MONITOR_BUDGET_MS", 90*time.Second),
	)

	svc, err := relay.NewService(relay.ServiceConfig{
		Guard:        guard,
		Store:        store,
		Builder:      builder,
		Node:         node,
		Monitor:      monitor,
		Queue:        queue,
		Metrics:      metrics,
		ChainName:    chainName,
		ContractHash: contractHash,
	})
	if err != nil {
		fatal("failed to build relay service", "error", err)
	}

	r := setupRouter(handlers.HandlerConfig{
		Service:      svc,
		ChainName:    chainName,
		ContractHash: contractHash,
		RelayKey:     keys.PublicKey(),
		Fees:         casper.DefaultFeeSchedule(),
		Version:      version,
	})

	slog.Info("relay configured",
		"chain", chainName,
		"contract", contractHash,
		"relay_account", keys.PublicKey().AccountHash(),
	)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":" + envDefault("FACILITATOR_PORT", "8080")
		slog.Info("running local server", "addr", addr)
		if err := http.ListenAndServe(addr, r); err != nil {
			fatal("local server failed", "error", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// loadRelayKeys loads the relay signing key from RELAY_SECRET_KEY_PATH (a
// PKCS#8 PEM file) or RELAY_SECRET_KEY_HEX (a 32-byte ed25519 seed). Exactly
// once, at startup.
func loadRelayKeys() *casper.KeyPair {
	if path := os.Getenv("RELAY_SECRET_KEY_PATH"); path != "" {
		keys, err := casper.LoadKeyPair(path)
		if err != nil {
			fatal("failed to load relay secret key file", "error", err)
		}
		return keys
	}
	if seed := os.Getenv("RELAY_SECRET_KEY_HEX"); seed != "" {
		keys, err := casper.KeyPairFromSeedHex(seed)
		if err != nil {
			fatal("failed to load relay secret key seed", "error", err)
		}
		return keys
	}
	fatal("RELAY_SECRET_KEY_PATH or RELAY_SECRET_KEY_HEX is required")
	return nil
}

func envDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		slog.Warn("ignoring invalid duration env var", "name", name, "value", v)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envUint(name string, fallback uint64) uint64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		slog.Warn("ignoring invalid numeric env var", "name", name, "value", v)
		return fallback
	}
	return n
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
