package pipeline

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	scheduled prometheus.Counter
	written   prometheus.Counter
	dropped   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	scheduled, err := registerCounter(reg, prometheus.CounterOpts{
		Name: "chainscan_pipeline_tasks_scheduled_total",
		Help: "Chains scheduled for validation",
	})
	if err != nil {
		return nil, err
	}
	written, err := registerCounter(reg, prometheus.CounterOpts{
		Name: "chainscan_pipeline_rows_written_total",
		Help: "Result rows written to the output",
	})
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, prometheus.CounterOpts{
		Name: "chainscan_pipeline_chains_dropped_total",
		Help: "Chains dropped because a certificate was not available",
	})
	if err != nil {
		return nil, err
	}
	return &metrics{scheduled: scheduled, written: written, dropped: dropped}, nil
}

// registerCounter registers a counter, reusing one already registered
// under the same name so consecutive pipelines share their totals.
func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) (prometheus.Counter, error) {
	c := prometheus.NewCounter(opts)
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("registering %s: %w", opts.Name, err)
	}
	return c, nil
}
