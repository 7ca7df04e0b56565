package observability

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "json", "info")
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("saved", "asset_id", "a1")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `"asset_id":"a1"`)
	})

	t.Run("text debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(&buf, "text", "debug")
		require.NoError(t, err)

		logger.Debug("visible")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := NewLogger(&bytes.Buffer{}, "xml", "info")
		assert.Error(t, err)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewLogger(&bytes.Buffer{}, "text", "loud")
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}

func TestObserveOperation(t *testing.T) {
	before := counterValue(t, OperationsTotal.WithLabelValues("test", "asset", "save", OutcomeOK))
	ObserveOperation("test", "asset", "save", OutcomeOK, time.Now())
	after := counterValue(t, OperationsTotal.WithLabelValues("test", "asset", "save", OutcomeOK))

	assert.Equal(t, before+1, after)
}

func TestSetFallbackActive(t *testing.T) {
	SetFallbackActive("switch-entity", true)
	assert.Equal(t, 1.0, gaugeValue(t, FallbackActive.WithLabelValues("switch-entity")))
	SetFallbackActive("switch-entity", false)
	assert.Equal(t, 0.0, gaugeValue(t, FallbackActive.WithLabelValues("switch-entity")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}
