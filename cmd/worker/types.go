package main

import "github.com/x402casper/relay/internal/relay"

// MonitorMessage is the payload sent from API -> SQS -> Worker. Alias of the
// orchestrator's message so both ends agree on shape.
type MonitorMessage = relay.MonitorMessage
