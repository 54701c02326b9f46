package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittoblk/pkg/metrics"
	"github.com/marmos91/dittoblk/pkg/queue"
)

// RegisterQueue exports slot table occupancy as gauges sampled from stats
// at scrape time. It is a no-op when metrics are disabled.
func RegisterQueue(stats func() queue.Stats) error {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	gauge := func(name, help string, value func(queue.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "queue",
				Name:      name,
				Help:      help,
			},
			func() float64 { return float64(value(stats())) },
		)
	}

	for _, c := range []prometheus.Collector{
		gauge("depth", "Number of slots in the table", func(s queue.Stats) int { return s.Depth }),
		gauge("free_slots", "Slots on the free ring", func(s queue.Stats) int { return s.Free }),
		gauge("reserved_slots", "Slots reserved by a dispatcher and not yet queued", func(s queue.Stats) int { return s.Reserved }),
		gauge("queued_slots", "Slots waiting for the worker", func(s queue.Stats) int { return s.Queued }),
		gauge("checked_out_slots", "Slots held by the worker", func(s queue.Stats) int { return s.CheckedOut }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
