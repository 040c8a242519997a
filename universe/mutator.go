package universe

import "context"

// BaseMutator supplies no-op Deploy/Undeploy implementations so concrete
// mutators (resourcebuild's cache warmers, resourceprovider's loader group,
// render-foundation frame checkpoints) only need to implement Execute.
type BaseMutator struct {
	Desc MutatorDescriptor
}

func (b BaseMutator) Descriptor() MutatorDescriptor { return b.Desc }

func (b BaseMutator) Deploy(context.Context, *World) error { return nil }

func (b BaseMutator) Undeploy(context.Context, *World) error { return nil }

// FuncMutator adapts a plain function to the Mutator interface for
// mutators with no deploy/undeploy-time setup, e.g. frame checkpoints.
type FuncMutator struct {
	BaseMutator
	Fn func(ctx context.Context, job JobHandle) error
}

func (f FuncMutator) Execute(ctx context.Context, job JobHandle) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, job)
}

var _ Mutator = FuncMutator{}
