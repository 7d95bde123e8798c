// Package metrics exposes Prometheus instrumentation for the playback
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Pipeline metrics
	FramesDemuxed  *prometheus.CounterVec
	FramesDecoded  *prometheus.CounterVec
	FramesRendered *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	BytesRead      prometheus.Counter
	DecodeInFlight prometheus.Gauge

	// Flow control
	IOPauses     prometheus.Counter
	IOResumes    prometheus.Counter
	CacheSeconds *prometheus.GaugeVec

	// Player metrics
	ActivePlayers    prometheus.Gauge
	Seeks            prometheus.Counter
	StateTransitions *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

// New creates the metrics and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FramesDemuxed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reel_frames_demuxed_total",
				Help: "Total number of frames produced by the demuxer",
			},
			[]string{"type"}, // type: audio or video
		),
		FramesDecoded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reel_frames_decoded_total",
				Help: "Total number of frames produced by decoders",
			},
			[]string{"type"},
		),
		FramesRendered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reel_frames_rendered_total",
				Help: "Total number of frames handed to renderers",
			},
			[]string{"type"},
		),
		FramesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reel_frames_dropped_total",
				Help: "Total number of frames discarded before rendering",
			},
			[]string{"reason"}, // stale, flush, seek, rejected, late, empty
		),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "reel_io_bytes_read_total",
			Help: "Total bytes delivered by I/O handlers",
		}),
		DecodeInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "reel_decode_in_flight",
			Help: "Frames submitted to decoders awaiting output",
		}),

		IOPauses: f.NewCounter(prometheus.CounterOpts{
			Name: "reel_io_pauses_total",
			Help: "Times I/O was paused because the cache exceeded its maximum",
		}),
		IOResumes: f.NewCounter(prometheus.CounterOpts{
			Name: "reel_io_resumes_total",
			Help: "Times I/O resumed after the cache drained below its minimum",
		}),
		CacheSeconds: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reel_cache_seconds",
				Help: "Decoded but unrendered media per player",
			},
			[]string{"player"},
		),

		ActivePlayers: f.NewGauge(prometheus.GaugeOpts{
			Name: "reel_active_players",
			Help: "Number of open players",
		}),
		Seeks: f.NewCounter(prometheus.CounterOpts{
			Name: "reel_seeks_total",
			Help: "Total number of seeks issued",
		}),
		StateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reel_state_transitions_total",
				Help: "Player state transitions by target state",
			},
			[]string{"state"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reel_errors_total",
				Help: "Pipeline errors by stage",
			},
			[]string{"stage"},
		),
	}
}

// RecordDemuxed records a frame leaving the demuxer
func (m *Metrics) RecordDemuxed(kind string) {
	if m == nil {
		return
	}
	m.FramesDemuxed.WithLabelValues(kind).Inc()
}

// RecordDecoded records a frame leaving a decoder
func (m *Metrics) RecordDecoded(kind string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(kind).Inc()
}

// RecordRendered records a frame pulled by a renderer
func (m *Metrics) RecordRendered(kind string) {
	if m == nil {
		return
	}
	m.FramesRendered.WithLabelValues(kind).Inc()
}

// RecordDropped records n frames discarded for reason
func (m *Metrics) RecordDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordRead records bytes delivered by I/O
func (m *Metrics) RecordRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.Add(float64(n))
}

// SetInFlight sets the decode in-flight gauge
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.DecodeInFlight.Set(float64(n))
}

// RecordIOPause records admission control pausing I/O
func (m *Metrics) RecordIOPause() {
	if m == nil {
		return
	}
	m.IOPauses.Inc()
}

// RecordIOResume records admission control resuming I/O
func (m *Metrics) RecordIOResume() {
	if m == nil {
		return
	}
	m.IOResumes.Inc()
}

// SetCache records the cache time of a player
func (m *Metrics) SetCache(player string, seconds float64) {
	if m == nil {
		return
	}
	m.CacheSeconds.WithLabelValues(player).Set(seconds)
}

// RecordPlayerOpen records a player being created
func (m *Metrics) RecordPlayerOpen() {
	if m == nil {
		return
	}
	m.ActivePlayers.Inc()
}

// RecordPlayerClose records a player being closed
func (m *Metrics) RecordPlayerClose(player string) {
	if m == nil {
		return
	}
	m.ActivePlayers.Dec()
	m.CacheSeconds.DeleteLabelValues(player)
}

// RecordSeek records a seek
func (m *Metrics) RecordSeek() {
	if m == nil {
		return
	}
	m.Seeks.Inc()
}

// RecordState records a state transition
func (m *Metrics) RecordState(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordError records a pipeline error at stage
func (m *Metrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(stage).Inc()
}
