package universe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
	"github.com/KonstantinTomashevich/Kan-sub009/repository"
)

// Pipeline is an ordered set of mutator nodes assembled into a CPU workflow
// graph, resolved from a PipelineDefinition at deploy time.
type Pipeline struct {
	world    *World
	name     string
	mutators map[string]Mutator
	levels   [][]string // topologically partitioned mutator names; one level dispatches concurrently

	pool  *workerPool
	tick  uint64

	logger kanlog.Logger
	tracer Tracer
	observer Observer
}

func newPipeline(w *World, def PipelineDefinition, instrumentation InstrumentationConfig) (*Pipeline, error) {
	mutators := make(map[string]Mutator, len(def.Mutators))
	groups := make(map[string][]string)
	var order []string
	for _, m := range def.Mutators {
		desc := m.Descriptor()
		if desc.Name == "" {
			return nil, fmt.Errorf("universe: pipeline %q has an unnamed mutator", def.Name)
		}
		if _, exists := mutators[desc.Name]; exists {
			return nil, fmt.Errorf("universe: pipeline %q has duplicate mutator %q", def.Name, desc.Name)
		}
		mutators[desc.Name] = m
		order = append(order, desc.Name)
		if desc.Group != "" {
			groups[desc.Group] = append(groups[desc.Group], desc.Name)
		}
	}
	for _, g := range def.MutatorGroups {
		if _, ok := groups[g]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMutatorGroup, g)
		}
	}

	levels, err := buildLevels(order, mutators, groups)
	if err != nil {
		return nil, err
	}

	logger := instrumentation.StructuredLogger
	if logger == nil {
		logger = w.logger
	}
	observer := buildObserverChain(logger, instrumentation)

	p := &Pipeline{
		world:    w,
		name:     def.Name,
		mutators: mutators,
		levels:   levels,
		logger:   logger,
		tracer:   noopTracer{},
		observer: observer,
	}
	return p, nil
}

// buildLevels resolves explicit DependsOn edges (by mutator or group name),
// rejects with ErrDuplicateWriteAccess any write/write or write/read pair
// that those edges leave unordered, then partitions the resulting DAG
// into levels via Kahn's algorithm (SPEC_FULL §4.3 "CPU workflow graph").
func buildLevels(order []string, mutators map[string]Mutator, groups map[string][]string) ([][]string, error) {
	edges := make(map[string]map[string]struct{}, len(order)) // from -> set of to
	addEdge := func(from, to string) {
		if from == to {
			return
		}
		if edges[from] == nil {
			edges[from] = make(map[string]struct{})
		}
		edges[from][to] = struct{}{}
	}
	reaches := func(from, to string, seen map[string]bool) bool {
		var walk func(string) bool
		walk = func(cur string) bool {
			if cur == to {
				return true
			}
			if seen[cur] {
				return false
			}
			seen[cur] = true
			for next := range edges[cur] {
				if walk(next) {
					return true
				}
			}
			return false
		}
		return walk(from)
	}

	for _, name := range order {
		desc := mutators[name].Descriptor()
		for _, dep := range desc.DependsOn {
			if _, ok := mutators[dep]; ok {
				addEdge(dep, name)
				continue
			}
			members, ok := groups[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on unknown mutator or group %q", ErrMissingMutator, name, dep)
			}
			for _, member := range members {
				addEdge(member, name)
			}
		}
	}

	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			a, b := order[i], order[j]
			if !conflicts(mutators[a].Descriptor(), mutators[b].Descriptor()) {
				continue
			}
			if reaches(a, b, map[string]bool{}) || reaches(b, a, map[string]bool{}) {
				continue
			}
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateWriteAccess, a, b)
		}
	}

	indegree := make(map[string]int, len(order))
	for _, name := range order {
		indegree[name] = 0
	}
	for _, to := range edges {
		for name := range to {
			indegree[name]++
		}
	}

	var levels [][]string
	remaining := len(order)
	done := make(map[string]bool, len(order))
	for remaining > 0 {
		var level []string
		for _, name := range order {
			if done[name] || indegree[name] > 0 {
				continue
			}
			level = append(level, name)
		}
		if len(level) == 0 {
			return nil, ErrCyclicDependency
		}
		sort.Strings(level)
		levels = append(levels, level)
		for _, name := range level {
			done[name] = true
			remaining--
			for next := range edges[name] {
				indegree[next]--
			}
		}
	}
	return levels, nil
}

// conflicts reports whether two mutators' declared storage access would
// race if dispatched concurrently: any overlap involving at least one write.
func conflicts(a, b MutatorDescriptor) bool {
	aw := toSet(a.Writes)
	bw := toSet(b.Writes)
	for t := range aw {
		if _, ok := bw[t]; ok {
			return true
		}
	}
	ar := toSet(a.Reads)
	br := toSet(b.Reads)
	for t := range aw {
		if _, ok := br[t]; ok {
			return true
		}
	}
	for t := range bw {
		if _, ok := ar[t]; ok {
			return true
		}
	}
	return false
}

func toSet(vals []string) map[string]struct{} {
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

func (p *Pipeline) deploy(ctx context.Context) error {
	for _, name := range flatten(p.levels) {
		if err := p.mutators[name].Deploy(ctx, p.world); err != nil {
			return fmt.Errorf("universe: mutator %q deploy: %w", name, err)
		}
	}
	workers := 0
	for _, level := range p.levels {
		if len(level) > workers {
			workers = len(level)
		}
	}
	if workers > 1 {
		p.pool = newWorkerPool(workers)
	}
	return nil
}

func (p *Pipeline) undeploy(ctx context.Context) error {
	if p.pool != nil {
		p.pool.Close()
	}
	for _, name := range flatten(p.levels) {
		if err := p.mutators[name].Undeploy(ctx, p.world); err != nil {
			return fmt.Errorf("universe: mutator %q undeploy: %w", name, err)
		}
	}
	return nil
}

// run transitions the world to serving (idempotent if already serving),
// resolves the DAG into a topological partition ordering, and dispatches
// ready mutator nodes as CPU tasks level by level. Each mutator's Execute
// runs exactly once per call.
func (p *Pipeline) run(ctx context.Context, dt time.Duration) error {
	if p.world.repo.Mode() != repository.Serving {
		if err := p.world.repo.EnterServing(); err != nil {
			return err
		}
	}
	tick := p.tick
	p.tick++

	for _, level := range p.levels {
		if len(level) == 1 {
			if err := p.runOne(ctx, level[0], tick, dt); err != nil {
				return err
			}
			continue
		}
		handles := make([]*jobHandle, len(level))
		for i, name := range level {
			name := name
			handles[i] = p.pool.Submit(ctx, func(jobCtx context.Context) jobResult {
				err := p.runOne(jobCtx, name, tick, dt)
				return jobResult{err: err}
			})
		}
		for _, h := range handles {
			if res := h.Wait(); res.err != nil {
				return res.err
			}
		}
	}
	return nil
}

func (p *Pipeline) runOne(ctx context.Context, name string, tick uint64, dt time.Duration) error {
	m := p.mutators[name]
	desc := m.Descriptor()
	handle := &jobHandleImpl{world: p.world, tick: tick, dt: dt, logger: p.logger.With("mutator", name), tracer: p.tracer}

	start := time.Now()
	err := m.Execute(ctx, handle)
	handle.wait()
	summary := MutatorSummary{
		Mutator:  name,
		Pipeline: p.name,
		World:    p.world.name,
		Tick:     tick,
		Duration: time.Since(start),
		Err:      err,
		Reads:    append([]string(nil), desc.Reads...),
		Writes:   append([]string(nil), desc.Writes...),
	}
	if err == nil {
		if werr := handle.errFromSpawned(); werr != nil {
			summary.Err = werr
			err = werr
		}
	}
	if p.observer != nil {
		p.observer.MutatorCompleted(summary)
	}
	if err != nil {
		return fmt.Errorf("universe: mutator %q failed: %w", name, err)
	}
	return nil
}

func flatten(levels [][]string) []string {
	var out []string
	for _, l := range levels {
		out = append(out, l...)
	}
	return out
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, name string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End() {}
