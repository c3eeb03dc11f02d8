package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_event_duration_sec",
	Help: "Total duration of moderation event processing",
}, []string{"type"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_event_errors",
	Help: "Number of events which failed processing",
}, []string{"type"})

var violationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_violations",
	Help: "Number of anti-spam violations acted on, by label and punishment",
}, []string{"label", "punishment"})

var violationSuppressedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_violations_suppressed",
	Help: "Number of violations dropped because the member was punished moments before",
})

var enforcementCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_enforcements",
	Help: "Number of punishments applied",
}, []string{"punishment"})

var enforcementErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_enforcement_errors",
	Help: "Number of platform enforcement actions which failed",
}, []string{"op"})

var echoSuppressedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_echo_suppressed",
	Help: "Number of gateway events recognized as echoes of the engine's own actions",
}, []string{"type"})

var cleanedMessageCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_messages_cleaned",
	Help: "Number of messages deleted after punishments",
})

var infractionExpiredCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_infractions_expired",
	Help: "Number of temporary punishments reversed",
}, []string{"type"})
