package universe

import (
	"context"
	"time"
)

// SchedulerFunc is the top-level function of a world, invoked once per
// update; it sequences pipeline runs and child-world updates through the
// SchedulerHandle it receives.
type SchedulerFunc func(ctx context.Context, handle SchedulerHandle) error

// SchedulerHandle is the interface a scheduler function receives: it may
// run named pipelines and, exactly once, trigger recursive updates of every
// child world. Between pipeline runs the scheduler may freely acquire
// repository accesses since it runs on the caller thread, not inside the
// workflow graph.
type SchedulerHandle interface {
	World() *World
	TimeDelta() time.Duration
	RunPipeline(ctx context.Context, name string) error
	UpdateAllChildren(ctx context.Context) error
}

type schedulerHandle struct {
	world *World
	dt    time.Duration
}

func (h *schedulerHandle) World() *World { return h.world }

func (h *schedulerHandle) TimeDelta() time.Duration { return h.dt }

func (h *schedulerHandle) RunPipeline(ctx context.Context, name string) error {
	p, ok := h.world.Pipeline(name)
	if !ok {
		return ErrUnknownPipeline
	}
	return p.run(ctx, h.dt)
}

func (h *schedulerHandle) UpdateAllChildren(ctx context.Context) error {
	return h.world.updateAllChildren(ctx, h.dt)
}
