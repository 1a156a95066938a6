package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_delivery_sends_total",
			Help: "Delivery attempts by message kind and immediate outcome.",
		},
		[]string{"kind", "outcome"},
	)

	receiptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_delivery_receipts_total",
			Help: "Asynchronous delivery receipts resolved, by outcome.",
		},
		[]string{"outcome"},
	)

	cancelsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_delivery_cancels_total",
			Help: "Fan-out cancellations executed.",
		},
	)
)
