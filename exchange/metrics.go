package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rpcRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exch_rpc_requests_total",
		Help: "JSON-RPC requests serviced, by method and outcome.",
	}, []string{"method", "outcome"})

	transfersSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exch_transfers_submitted_total",
		Help: "Transfers acknowledged by the node.",
	})

	transferOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exch_transfer_outcomes_total",
		Help: "Final transfer outcomes observed by the watcher, by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(rpcRequests, transfersSubmitted, transferOutcomes)
}
