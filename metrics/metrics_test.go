package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/metrics"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", metrics.Result(nil))
	assert.Equal(t, "failed", metrics.Result(errors.New("x")))
}

func TestHandlerServesRegistry(t *testing.T) {
	metrics.BlocksTotal.Inc()
	metrics.TxTotal.WithLabelValues("stake", "ok").Inc()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tolstake_blocks_produced_total")
	assert.Contains(t, string(body), `tolstake_tx_total{result="ok",type="stake"}`)
	assert.Contains(t, string(body), "go_goroutines")
}
