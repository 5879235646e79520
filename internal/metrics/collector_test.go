package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("a")
	b := NewCollector("a")

	a.ChatRequests.WithLabelValues(OutcomeBlocked).Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ChatRequests.WithLabelValues(OutcomeBlocked)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ChatRequests.WithLabelValues(OutcomeBlocked)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("counsel")
	c.ModerationBlocks.WithLabelValues("ng_word").Inc()
	c.GenerationDuration.Observe(0.2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `counsel_moderation_blocks_total{rule="ng_word"} 1`)
	assert.Contains(t, string(body), "counsel_generation_duration_seconds_count 1")
}
