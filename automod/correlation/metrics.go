package correlation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var correlationRegistered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_correlation_registered",
	Help: "Number of expected echo events registered",
})

var correlationMatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_correlation_matched",
	Help: "Number of gateway events matched to a registered correlation, by event type",
}, []string{"type"})

var correlationExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_correlation_expired",
	Help: "Number of correlation entries removed after expiring unmatched",
})

var correlationActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_correlation_active",
	Help: "Correlation entries currently held",
})
