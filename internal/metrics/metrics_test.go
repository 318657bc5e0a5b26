package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAgainstGivenRegisterer(t *testing.T) {
	var reg = prometheus.NewRegistry()
	var m = New(reg)

	m.MessagesSent.WithLabelValues("grpc", "DocUpdate").Inc()
	m.OutboundQueued.WithLabelValues("42").Set(3)
	// Registering the same collector again must fail: New already did it.
	assert.Error(t, reg.Register(m.MessagesSent))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesSent.WithLabelValues("grpc", "DocUpdate")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.OutboundQueued.WithLabelValues("42")))
}

func TestNewWithNilRegistererStaysUsable(t *testing.T) {
	var m = New(nil)
	require.NotNil(t, m.ChannelsByState)
	m.ChannelsByState.WithLabelValues("inproc", "established").Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ChannelsByState.WithLabelValues("inproc", "established")))
}

func TestTwoMetricsAgainstSeparateRegistriesDoNotCollide(t *testing.T) {
	var a = New(prometheus.NewRegistry())
	var b = New(prometheus.NewRegistry())

	a.MessagesReceived.WithLabelValues("inproc", "Leave").Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(b.MessagesReceived.WithLabelValues("inproc", "Leave")))
}
