package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(creditsConsumedTotal, creditsRefundedTotal, creditsGrantedTotal) }

var creditsConsumedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "credits_consumed_total",
		Help: "Total free credits debited for generations.",
	},
)

var creditsRefundedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "credits_refunded_total",
		Help: "Total free credits refunded after failed generations.",
	},
)

var creditsGrantedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "credits_granted_total",
		Help: "Total free credits handed out by the daily grant.",
	},
)

func AddCreditsConsumed(n int64) {
	if n > 0 {
		creditsConsumedTotal.Add(float64(n))
	}
}

func AddCreditsRefunded(n int64) {
	if n > 0 {
		creditsRefundedTotal.Add(float64(n))
	}
}

func AddCreditsGranted(n int64) {
	if n > 0 {
		creditsGrantedTotal.Add(float64(n))
	}
}
