package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_commands_total",
		Help: "Lifecycle commands by operation and result.",
	}, []string{"command", "result"})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_events_published_total",
		Help: "Domain events published per channel.",
	}, []string{"channel"})

	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_frames_dropped_total",
		Help: "Frames dropped because a subscriber buffer was full.",
	}, []string{"channel"})

	Subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pos_subscribers",
		Help: "Live subscribers per channel.",
	}, []string{"channel"})
)

func init() {
	prometheus.MustRegister(CommandsTotal, EventsPublished, FramesDropped, Subscribers)
}
