package universe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/repository"
)

// World is a node in the world tree: it owns a repository, a set of
// pipelines, realised configuration instances, and child worlds.
type World struct {
	mu       sync.RWMutex
	name     string
	parent   *World
	children []*World

	repo     *repository.Repository
	registry reflection.Registry
	logger   kanlog.Logger

	pipelines map[string]*Pipeline
	configs   map[string][]byte
	configDes map[string]*reflection.StructDescription

	scheduler SchedulerFunc
}

// Name reports the world's name.
func (w *World) Name() string { return w.name }

// Repository exposes the world's owned repository.
func (w *World) Repository() *repository.Repository { return w.repo }

// Parent returns the owning world, or nil for the root.
func (w *World) Parent() *World { return w.parent }

// Children returns a snapshot of the world's children.
func (w *World) Children() []*World {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*World(nil), w.children...)
}

// Pipeline resolves a registered pipeline by name.
func (w *World) Pipeline(name string) (*Pipeline, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.pipelines[name]
	return p, ok
}

// QueryConfiguration returns a pointer to the realised configuration
// instance of the named slot, or nil if undeclared.
func (w *World) QueryConfiguration(name string) []byte {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.configs[name]
}

// DeployRoot creates the repository, opens declared storages, constructs
// mutator state, deploys every pipeline's DAG, and recurses into children.
// Mirrors the teacher's NewScheduler+RegisterWorkGroup composed into one
// declarative entry point, per SPEC_FULL §4.3 "Deployment".
func DeployRoot(ctx context.Context, registry reflection.Registry, logger kanlog.Logger, def WorldDefinition) (*World, error) {
	return deployWorld(ctx, registry, logger, nil, def)
}

func deployWorld(ctx context.Context, registry reflection.Registry, logger kanlog.Logger, parent *World, def WorldDefinition) (*World, error) {
	if logger == nil {
		logger = kanlog.Noop{}
	}
	if def.Scheduler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoScheduler, def.Name)
	}

	var repo *repository.Repository
	if parent != nil {
		repo = parent.repo.NewChild()
	} else {
		repo = repository.New(registry, logger)
	}

	w := &World{
		name:      def.Name,
		parent:    parent,
		repo:      repo,
		registry:  registry,
		logger:    logger,
		pipelines: make(map[string]*Pipeline),
		configs:   make(map[string][]byte),
		configDes: make(map[string]*reflection.StructDescription),
		scheduler: def.Scheduler,
	}

	for _, slot := range def.Configuration {
		desc, ok := registry.StructByName(slot.Type)
		if !ok {
			return nil, fmt.Errorf("%w: configuration %q references unknown type %q", ErrUnknownConfiguration, slot.Name, slot.Type)
		}
		patch := reflection.NewPatch(desc)
		for _, chunk := range slot.Layers {
			patch.Set(chunk.Offset, chunk.Bytes)
		}
		data, err := patch.ApplyToZeroed()
		if err != nil {
			return nil, fmt.Errorf("universe: realising configuration %q: %w", slot.Name, err)
		}
		w.configs[slot.Name] = data
		w.configDes[slot.Name] = desc
	}

	for _, pdef := range def.Pipelines {
		if _, exists := w.pipelines[pdef.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePipeline, pdef.Name)
		}
		p, err := newPipeline(w, pdef, def.Instrumentation)
		if err != nil {
			return nil, fmt.Errorf("universe: deploying pipeline %q: %w", pdef.Name, err)
		}
		if err := p.deploy(ctx); err != nil {
			return nil, fmt.Errorf("universe: deploying pipeline %q: %w", pdef.Name, err)
		}
		w.pipelines[pdef.Name] = p
	}

	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, w)
		parent.mu.Unlock()
	}

	for _, childDef := range def.Children {
		if _, err := deployWorld(ctx, registry, logger, w, childDef); err != nil {
			return nil, err
		}
	}

	if err := repo.EnterServing(); err != nil {
		return nil, fmt.Errorf("universe: world %q entering serving mode: %w", def.Name, err)
	}

	return w, nil
}

// Update invokes the world's scheduler once. Children are updated only
// when the scheduler calls UpdateAllChildren on its handle, and at that
// point in the scheduler's run.
func (w *World) Update(ctx context.Context, dt time.Duration) error {
	return w.scheduler(ctx, &schedulerHandle{world: w, dt: dt})
}

// updateAllChildren updates every child world in registration order.
func (w *World) updateAllChildren(ctx context.Context, dt time.Duration) error {
	for _, c := range w.Children() {
		if err := c.Update(ctx, dt); err != nil {
			return err
		}
	}
	return nil
}

// Destroy tears down children first, then this world's pipelines and
// repository, mirroring the spec's ownership rule.
func (w *World) Destroy(ctx context.Context) error {
	for _, c := range w.Children() {
		if err := c.Destroy(ctx); err != nil {
			return err
		}
	}
	w.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(w.pipelines))
	for _, p := range w.pipelines {
		pipelines = append(pipelines, p)
	}
	w.mu.Unlock()

	for _, p := range pipelines {
		if err := p.undeploy(ctx); err != nil {
			return err
		}
	}
	w.repo.Destroy()
	return nil
}
