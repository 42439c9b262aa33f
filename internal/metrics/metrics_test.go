package metrics_test

import (
	"testing"

	"github.com/chainflux/demux/internal/effects"
	"github.com/chainflux/demux/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecorder_SatisfiesEffectsMetricsRecorder pins the Recorder to
// the interface effects.Dispatcher depends on.
func TestRecorder_SatisfiesEffectsMetricsRecorder(t *testing.T) {
	var _ effects.MetricsRecorder = metrics.NewRecorder("evm-mainnet")
}

func TestRecorder_TracksQueueDepth(t *testing.T) {
	r := metrics.NewRecorder("test-chain")
	r.EffectEnqueued("transfer")
	r.EffectEnqueued("transfer")
	r.EffectSucceeded("transfer")

	got := testutil.ToFloat64(metrics.EffectQueueDepth.WithLabelValues("test-chain", "transfer"))
	if got != 1 {
		t.Fatalf("expected queue depth 1, got %v", got)
	}
}
