package webcamctl

import (
	"context"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts external command invocations
type Metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcamctl_commands_total",
				Help: "External commands run, by tool and result.",
			},
			[]string{"tool", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcamctl_command_duration_seconds",
				Help:    "External command run time, by tool.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
			},
			[]string{"tool"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.duration)
	}
	return m
}

type instrumentedExecutor struct {
	next    Executor
	metrics *Metrics
}

// InstrumentExecutor records count, result and duration of every command run by next
func InstrumentExecutor(next Executor, m *Metrics) Executor {
	return &instrumentedExecutor{next: next, metrics: m}
}

func (ie *instrumentedExecutor) Execute(ctx context.Context, argv []string) (string, error) {
	tool := "unknown"
	if len(argv) > 0 {
		tool = filepath.Base(argv[0])
	}
	start := time.Now()
	out, err := ie.next.Execute(ctx, argv)
	ie.metrics.duration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	ie.metrics.commands.WithLabelValues(tool, result).Inc()
	return out, err
}
