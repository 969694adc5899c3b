package monitoring

import (
	"texstream/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records pipeline and relay metrics. It satisfies
// ports.MetricsRecorder and relay.Metrics.
type PrometheusCollector struct {
	// Sender
	framesSentTotal    prometheus.Counter
	framesDroppedTotal *prometheus.CounterVec
	sendFailuresTotal  prometheus.Counter
	encodedBytes       prometheus.Histogram
	payloadBytes       prometheus.Histogram
	frameDuration      prometheus.Histogram
	poolAllocations    prometheus.Gauge
	poolReuses         prometheus.Gauge

	// Receiver
	framesReceivedTotal prometheus.Counter
	receivedBytesTotal  prometheus.Counter
	receiveErrorsTotal  *prometheus.CounterVec
	packetsPerSecond    prometheus.Gauge

	// Relay
	participantsConnected prometheus.Gauge
	joinsRejectedTotal    *prometheus.CounterVec
	relayedFramesTotal    prometheus.Counter
	relayedBytesTotal     prometheus.Counter
	relayDroppedTotal     *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg, or with the default
// registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		framesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "texstream_frames_sent_total",
			Help: "Total number of frames transmitted by the sender",
		}),

		framesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "texstream_frames_dropped_total",
			Help: "Frames the sender skipped, by pipeline stage",
		}, []string{"stage"}),

		sendFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "texstream_send_failures_total",
			Help: "Transmit failures that stopped a sender",
		}),

		encodedBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "texstream_frame_encoded_bytes",
			Help:    "Size of JPEG-encoded frames",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10),
		}),

		payloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "texstream_frame_payload_bytes",
			Help:    "Size of compressed frame payloads on the wire",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10),
		}),

		frameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "texstream_frame_pipeline_duration_seconds",
			Help:    "Time from capture to send completion for one frame",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		poolAllocations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "texstream_frame_pool_allocations",
			Help: "Pixel buffers allocated by the frame pool",
		}),

		poolReuses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "texstream_frame_pool_reuses",
			Help: "Pixel buffers served from the frame pool without allocating",
		}),

		framesReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "texstream_frames_received_total",
			Help: "Total number of stream messages received",
		}),

		receivedBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "texstream_received_bytes_total",
			Help: "Total payload bytes received",
		}),

		receiveErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "texstream_receive_errors_total",
			Help: "Received frames that could not be displayed, by error code",
		}, []string{"code"}),

		packetsPerSecond: factory.NewGauge(prometheus.GaugeOpts{
			Name: "texstream_packets_per_second",
			Help: "Stream messages received in the last one-second window",
		}),

		participantsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "texstream_relay_participants_connected",
			Help: "Participants currently connected to the relay",
		}),

		joinsRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "texstream_relay_joins_rejected_total",
			Help: "Join attempts refused by the relay, by reason",
		}, []string{"reason"}),

		relayedFramesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "texstream_relay_frames_total",
			Help: "Frames accepted by the relay for fan-out",
		}),

		relayedBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "texstream_relay_bytes_total",
			Help: "Bytes queued to recipients by the relay",
		}),

		relayDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "texstream_relay_frames_dropped_total",
			Help: "Frames the relay did not deliver, by reason",
		}, []string{"reason"}),
	}
}

func (p *PrometheusCollector) RecordFrameSent(stats domain.FrameStats) {
	p.framesSentTotal.Inc()
	p.encodedBytes.Observe(float64(stats.EncodedBytes))
	p.payloadBytes.Observe(float64(stats.CompressedBytes))
	p.frameDuration.Observe(stats.Duration.Seconds())
}

func (p *PrometheusCollector) RecordFrameDropped(stage string) {
	p.framesDroppedTotal.WithLabelValues(stage).Inc()
}

func (p *PrometheusCollector) RecordSendFailure() {
	p.sendFailuresTotal.Inc()
}

func (p *PrometheusCollector) RecordFrameReceived(payloadBytes int) {
	p.framesReceivedTotal.Inc()
	p.receivedBytesTotal.Add(float64(payloadBytes))
}

func (p *PrometheusCollector) RecordReceiveError(code string) {
	p.receiveErrorsTotal.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) RecordThroughput(packetsPerSecond int) {
	p.packetsPerSecond.Set(float64(packetsPerSecond))
}

func (p *PrometheusCollector) RecordPoolStats(allocations, reuses uint64) {
	p.poolAllocations.Set(float64(allocations))
	p.poolReuses.Set(float64(reuses))
}

func (p *PrometheusCollector) ParticipantJoined() {
	p.participantsConnected.Inc()
}

func (p *PrometheusCollector) ParticipantLeft() {
	p.participantsConnected.Dec()
}

func (p *PrometheusCollector) JoinRejected(reason string) {
	p.joinsRejectedTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) FrameRelayed(bytes, recipients int) {
	p.relayedFramesTotal.Inc()
	p.relayedBytesTotal.Add(float64(bytes * recipients))
}

func (p *PrometheusCollector) FrameDropped(reason string) {
	p.relayDroppedTotal.WithLabelValues(reason).Inc()
}
