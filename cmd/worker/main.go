package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	internalaws "github.com/x402casper/relay/internal/aws"
	"github.com/x402casper/relay/internal/casper"
	"github.com/x402casper/relay/internal/relay"
	"github.com/x402casper/relay/internal/settlements"
	"github.com/x402casper/relay/pkg/logging"
)

func main() {
	logging.Setup()
	ctx := context.Background()

	settlementsTable := os.Getenv("SETTLEMENTS_TABLE")
	if settlementsTable == "" {
		slog.Error("SETTLEMENTS_TABLE is required")
		os.Exit(1)
	}

	clients, err := internalaws.NewAWSClients(ctx)
	if err != nil {
		slog.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	node := casper.NewClient(
		envDefault("NODE_ADDRESS", "http://localhost:7777/rpc"),
		os.Getenv("NODE_AUTH_TOKEN"),
		envDuration("NODE_TIMEOUT_MS", 30*time.Second),
	)

	// the worker gets a longer budget than the API's inline monitor: it is
	// the last line of bookkeeping before a settlement is declared TIMED_OUT
	monitor := relay.NewMonitor(node,
		envDuration("MONITOR_INTERVAL_MS", 5*time.Second),
		envDuration("MONITOR_BUDGET_MS", 10*time.Minute),
	)

	processor := NewProcessor(
		settlements.NewDynamoStore(clients.DynamoDB, settlementsTable),
		monitor,
		internalaws.NewRecorder(clients.CloudWatch, os.Getenv("METRICS_NAMESPACE")),
		envDefault("CHAIN_NAME", "casper-test"),
	)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"deploy_hash":"local-deploy-1","signer_key":"","nonce":0}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: testBody},
			},
		}
		if err := processor.Handle(ctx, event); err != nil {
			slog.Error("local handler error", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(processor.Handle)
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
