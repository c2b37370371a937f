package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("collab", reg, nil)

	c.RecordHTTPRequest("POST", "/v1/sessions", 201, 15*time.Millisecond)
	c.RecordHTTPRequest("POST", "/v1/sessions", 500, 5*time.Millisecond)
	c.RecordDelegation("accepted")
	c.RecordDelegation("rejected")
	c.RecordDelegation("accepted")
	c.RecordHandoff()
	c.RecordSessionTransition("completed")
	c.SetAgentWorkload("agent-a", 3)
	c.SetContextItems(7)
	c.RecordSweep(4, 20*time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(
		c.httpRequestsTotal.WithLabelValues("POST", "/v1/sessions", "2xx")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		c.httpRequestsTotal.WithLabelValues("POST", "/v1/sessions", "5xx")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(
		c.delegationsTotal.WithLabelValues("accepted")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.handoffsTotal), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		c.sessionTransitions.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(
		c.agentWorkload.WithLabelValues("agent-a")), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(c.contextItems), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(c.sweepRemoved), 1e-9)
}

func TestCollector_IsolatedRegistries(t *testing.T) {
	// Two collectors may coexist as long as they register separately.
	a := NewCollector("collab", prometheus.NewRegistry(), nil)
	b := NewCollector("collab", prometheus.NewRegistry(), nil)
	require.NotNil(t, a)
	require.NotNil(t, b)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(200))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(422))
	assert.Equal(t, "5xx", statusCode(503))
}
