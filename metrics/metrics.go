// Package metrics exposes node counters in the Prometheus text format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tolstake"

var (
	// TxTotal counts executed transactions by type and result ("ok" | "failed").
	TxTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_total",
		Help:      "Executed transactions by type and result.",
	}, []string{"type", "result"})

	BlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_produced_total",
		Help:      "Blocks produced by this node.",
	})

	BlockTxs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "block_txs",
		Help:      "Transactions included per produced block.",
		Buckets:   []float64{0, 1, 5, 10, 50, 100, 250, 500},
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mempool_size",
		Help:      "Pending transactions.",
	})

	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC requests by method and result.",
	}, []string{"method", "result"})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		TxTotal,
		BlocksTotal,
		BlockTxs,
		MempoolSize,
		RPCRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the node registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Result maps an error to the "result" label value.
func Result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
