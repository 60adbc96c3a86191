// Package timeouts defines shared timeout constants used across the relayer.
// Centralizing these values prevents drift between the HTTP surface and the
// ledger client and makes the durations discoverable.
package timeouts

import "time"

// RPCRequest caps the time allowed for a single ledger JSON-RPC call.
const RPCRequest = 15 * time.Second

// FaucetRequest caps the best-effort funding call for a new relayer key.
const FaucetRequest = 30 * time.Second

// PollInterval is the default spacing between transaction status polls.
const PollInterval = time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
