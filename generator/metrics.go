package generator

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/keygen"
)

var (
	promRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keygen_generator_rounds_total",
		Help: "total number of rounds started by the leader",
	})

	promContributions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keygen_generator_contributions_total",
		Help: "total number of contributions received by outcome",
	}, []string{"outcome"})

	promAggregations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keygen_generator_aggregations_total",
		Help: "total number of aggregations by outcome",
	}, []string{"outcome"})

	promBroadcastFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keygen_generator_broadcast_failures_total",
		Help: "total number of calls to a member that failed",
	}, []string{"rpc"})
)

func init() {
	keygen.PromCollectors = append(keygen.PromCollectors,
		promRounds,
		promContributions,
		promAggregations,
		promBroadcastFailures)
}
