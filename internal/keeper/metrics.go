package keeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dvm_cycles_total",
		Help: "Number of keeper rebalance cycles run since start.",
	})

	rebalancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvm_rebalances_total",
		Help: "Number of UpdateDebt calls by outcome.",
	}, []string{"outcome"})

	totalIdleGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dvm_total_idle",
		Help: "Vault idle assets in display units after the last cycle.",
	})

	totalDebtGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dvm_total_debt",
		Help: "Vault allocated debt in display units after the last cycle.",
	})
)
