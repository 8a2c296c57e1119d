package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	IncGateDecision("throttled")
	IncRateLimitDecision("auth", "blocked")
	IncAlertDelivery("slack", "error")
	SetAuditQueueDepth(7)

	assert.Equal(t, float64(1), testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("throttled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rateLimitDecisionsTotal.WithLabelValues("auth", "blocked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(alertDeliveriesTotal.WithLabelValues("slack", "error")))
	assert.Equal(t, float64(7), testutil.ToFloat64(auditQueueDepth))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
