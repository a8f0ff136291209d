package metrics

import "time"

// Counter names
const (
	EventOutcome  = "outcome"
	EventRun      = "run"
	EventRPCError = "rpc_error"
)

// Recorder receives counters and latencies from the reconciler and chain observers
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
