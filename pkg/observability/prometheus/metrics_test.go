package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.SignalsDelivered("example", "in", 3)
	m.SignalsEmitted("example", "out", 2)
	m.Undelivered("example", "out", 1)
	m.ProcessFailed("example")

	assert.Equal(t, float64(3), testutil.ToFloat64(m.SignalsIn.WithLabelValues("example", "in")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SignalsOut.WithLabelValues("example", "out")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UndeliveredSignals.WithLabelValues("example", "out")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProcessErrors.WithLabelValues("example")))
}

func TestMetrics_SetState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	states := []string{"created", "configured", "started", "stopped"}
	m.SetState("example", "configured", states...)
	m.SetState("example", "started", states...)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.BlockState.WithLabelValues("example", "configured")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BlockState.WithLabelValues("example", "started")))
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SignalsDelivered("a", "b", 1)
		m.SetState("a", "started")
		m.ObserveDelivery("a", 0.1)
	})
}

func TestFastHTTPHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	m.SignalsEmitted("example", "out", 5)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/metrics")
	FastHTTPHandlerFor(reg)(&ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, strings.Contains(string(ctx.Response.Body()), "blockflow_signals_out_total"))
}
