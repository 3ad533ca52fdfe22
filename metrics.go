package vosk

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "vosk_stt"

// Metrics holds session counters. A nil *Metrics records nothing.
type Metrics struct {
	FramesSent         prometheus.Counter
	FramesDropped      prometheus.Counter
	Handshakes         prometheus.Counter
	EventsForwarded    *prometheus.CounterVec
	PartialsSuppressed prometheus.Counter
	ProtocolErrors     prometheus.Counter
	Disconnects        prometheus.Counter
	ReconnectAttempts  prometheus.Counter
}

// NewMetrics creates the counters and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Audio frames written to the backend.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped because no transport was available.",
		}),
		Handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshakes_total",
			Help:      "Config handshakes sent.",
		}),
		EventsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_forwarded_total",
			Help:      "Transcript events delivered to listeners.",
		}, []string{"kind"}),
		PartialsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "partials_suppressed_total",
			Help:      "Partial results dropped as duplicates or empty.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound messages that could not be parsed.",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Transport closes and errors that raised the reconnect signal.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts_total",
			Help:      "Session opens made after a reconnect signal.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesSent,
			m.FramesDropped,
			m.Handshakes,
			m.EventsForwarded,
			m.PartialsSuppressed,
			m.ProtocolErrors,
			m.Disconnects,
			m.ReconnectAttempts,
		)
	}
	return m
}

func (m *Metrics) frameSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) handshake() {
	if m != nil {
		m.Handshakes.Inc()
	}
}

func (m *Metrics) eventForwarded(partial bool) {
	if m == nil {
		return
	}
	kind := "final"
	if partial {
		kind = "partial"
	}
	m.EventsForwarded.WithLabelValues(kind).Inc()
}

func (m *Metrics) partialSuppressed() {
	if m != nil {
		m.PartialsSuppressed.Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.ProtocolErrors.Inc()
	}
}

func (m *Metrics) disconnect() {
	if m != nil {
		m.Disconnects.Inc()
	}
}

func (m *Metrics) reconnectAttempt() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}
