package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	recorder.IncCounter(EventOutcome, map[string]string{"network": "L1", "result": "confirmed"})
	recorder.IncCounter(EventOutcome, map[string]string{"network": "L1", "result": "confirmed"})
	recorder.IncCounter(EventOutcome, map[string]string{"network": "L1", "result": "pending"})
	recorder.ObserveLatency("eth_getTransactionReceipt", 120*time.Millisecond, map[string]string{"network": "L1"})

	assert.Equal(t, 2.0, testutil.ToFloat64(recorder.counters.WithLabelValues(EventOutcome, "L1", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.counters.WithLabelValues(EventOutcome, "L1", "pending")))
	assert.Equal(t, 1, testutil.CollectAndCount(recorder.histogram))

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err, "registering twice on the same registry fails")
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncCounter(EventRun, nil)
	r.ObserveLatency(EventRun, time.Second, nil)
}
