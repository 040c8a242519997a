package universe

import (
	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
)

// compositeObserver fans a completed-mutator summary out to every
// configured sink, mirroring the teacher's three-observer chain
// (structured-log / Prometheus / trace-export).
type compositeObserver struct {
	observers []Observer
}

func (c compositeObserver) MutatorCompleted(summary MutatorSummary) {
	for _, o := range c.observers {
		o.MutatorCompleted(summary)
	}
}

type loggingObserver struct {
	logger kanlog.Logger
}

func (o loggingObserver) MutatorCompleted(summary MutatorSummary) {
	l := o.logger.With("mutator", summary.Mutator).With("pipeline", summary.Pipeline).With("world", summary.World)
	args := []any{
		"tick", summary.Tick,
		"duration", summary.Duration,
		"reads", summary.Reads,
		"writes", summary.Writes,
	}
	if summary.Err != nil {
		l.Error("mutator failed", append(args, "err", summary.Err)...)
		return
	}
	l.Info("mutator executed", args...)
}

type prometheusObserver struct {
	collector PrometheusCollector
}

func (o prometheusObserver) MutatorCompleted(summary MutatorSummary) {
	o.collector.ObserveMutator(summary)
}

type sigNozObserver struct {
	exporter SigNozExporter
}

func (o sigNozObserver) MutatorCompleted(summary MutatorSummary) {
	o.exporter.ExportMutator(summary)
}

type noopObserver struct{}

func (noopObserver) MutatorCompleted(MutatorSummary) {}

// buildObserverChain assembles the configured observer sinks into one,
// defaulting to a silent no-op when nothing is enabled.
func buildObserverChain(logger kanlog.Logger, cfg InstrumentationConfig) Observer {
	var observers []Observer

	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}
	if cfg.EnableStructuredLogging {
		l := cfg.StructuredLogger
		if l == nil {
			l = logger
		}
		if l != nil {
			observers = append(observers, loggingObserver{logger: l})
		}
	}
	if cfg.EnablePrometheus && cfg.PrometheusCollector != nil {
		observers = append(observers, prometheusObserver{collector: cfg.PrometheusCollector})
	}
	if cfg.EnableSigNoz && cfg.SigNozExporter != nil {
		observers = append(observers, sigNozObserver{exporter: cfg.SigNozExporter})
	}

	switch len(observers) {
	case 0:
		return noopObserver{}
	case 1:
		return observers[0]
	default:
		return compositeObserver{observers: observers}
	}
}
