package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vmux"

// ── Prometheus export ────────────────────────────────────────────────

type promDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*Collector) int64
}

func newDesc(name, help string, kind prometheus.ValueType, value func(*Collector) int64) promDesc {
	return promDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		kind:  kind,
		value: value,
	}
}

var promDescs = []promDesc{
	newDesc("sessions_active", "Physical links currently multiplexed.", prometheus.GaugeValue, (*Collector).ActiveSessions),
	newDesc("sessions_total", "Physical links opened since start.", prometheus.CounterValue, (*Collector).TotalSessions),
	newDesc("sockets_active", "Virtual sockets currently connected.", prometheus.GaugeValue, (*Collector).ActiveSockets),
	newDesc("sockets_total", "Virtual sockets connected since start.", prometheus.CounterValue, (*Collector).TotalSockets),
	newDesc("frames_received_total", "Frames read from physical links.", prometheus.CounterValue, (*Collector).FramesIn),
	newDesc("frames_sent_total", "Frames written to physical links.", prometheus.CounterValue, (*Collector).FramesOut),
	newDesc("payload_received_bytes_total", "Frame payload bytes received.", prometheus.CounterValue, (*Collector).TotalBytesIn),
	newDesc("payload_sent_bytes_total", "Frame payload bytes sent.", prometheus.CounterValue, (*Collector).TotalBytesOut),
	newDesc("frames_dropped_total", "Inbound frames discarded.", prometheus.CounterValue, (*Collector).DroppedFrames),
	newDesc("connect_rejects_total", "Virtual connects rejected.", prometheus.CounterValue, (*Collector).Rejects),
	newDesc("dial_retries_total", "Physical dial attempts retried.", prometheus.CounterValue, (*Collector).DialRetries),
	newDesc("errors_total", "Errors recorded.", prometheus.CounterValue, (*Collector).ErrorCount),
}

// promCollector adapts a Collector to prometheus.Collector. Values are
// read at scrape time, so the hot path stays on plain atomics.
type promCollector struct {
	c *Collector
}

// NewPrometheusCollector returns a prometheus.Collector exporting c.
func NewPrometheusCollector(c *Collector) prometheus.Collector {
	return &promCollector{c: c}
}

func (p *promCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range promDescs {
		ch <- d.desc
	}
}

func (p *promCollector) Collect(ch chan<- prometheus.Metric) {
	for _, d := range promDescs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.kind, float64(d.value(p.c)))
	}
}

// Handler returns an HTTP handler serving c in the Prometheus text
// format from a private registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewPrometheusCollector(c)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}), nil
}
