package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHelpersAreSafeAndCount(t *testing.T) {
	Init()
	Init()

	IncrementTransfer("initiate", "ok")
	IncrementTransfer("initiate", "ok")
	ObserveProcess("completed", 10*time.Millisecond)
	IncrementQueueJob("transfers", "ok")
	SetQueueDepth("transfers", "ready", 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(transferCounter.WithLabelValues("initiate", "ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(queueDepthGauge.WithLabelValues("transfers", "ready")))
}
