package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts channel grants and envelope outcomes.
type Metrics struct {
	channels *prometheus.CounterVec
	messages *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors with reg. A nil registerer
// yields collectors that are never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		channels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "abn",
				Name:      "channels_total",
				Help:      "Channel open requests by decision.",
			},
			[]string{"decision"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "beam",
				Subsystem: "abn",
				Name:      "messages_total",
				Help:      "Envelopes sent through the gateway by message type and outcome.",
			},
			[]string{"msg_type", "outcome"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.channels, m.messages} {
			if err := reg.Register(c); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					existing := already.ExistingCollector.(*prometheus.CounterVec)
					if c == m.channels {
						m.channels = existing
					} else {
						m.messages = existing
					}
					continue
				}
				panic(err)
			}
		}
	}
	return m
}

func (m *Metrics) channelOpened() {
	if m != nil {
		m.channels.WithLabelValues("granted").Inc()
	}
}

func (m *Metrics) channelDenied() {
	if m != nil {
		m.channels.WithLabelValues("denied").Inc()
	}
}

func (m *Metrics) message(msgType, outcome string) {
	if m != nil {
		m.messages.WithLabelValues(msgType, outcome).Inc()
	}
}
