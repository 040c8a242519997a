package universe

import "errors"

var (
	// ErrUnknownWorld names a lookup of a world that does not exist; no
	// function in this package returns it.
	ErrUnknownWorld = errors.New("universe: unknown world")
	// ErrDuplicatePipeline indicates two pipelines in one world share a name.
	ErrDuplicatePipeline = errors.New("universe: duplicate pipeline name")
	// ErrUnknownPipeline is returned by RunPipeline for an unregistered name.
	ErrUnknownPipeline = errors.New("universe: unknown pipeline")
	// ErrUnknownMutatorGroup is returned when a pipeline references an undeclared group.
	ErrUnknownMutatorGroup = errors.New("universe: unknown mutator group")
	// ErrCyclicDependency indicates the mutator dependency graph is not a DAG.
	ErrCyclicDependency = errors.New("universe: cyclic mutator dependency")
	// ErrDuplicateWriteAccess mirrors the repository-query conflict the teacher's
	// scheduler detected between work groups, here between mutators in one pipeline.
	ErrDuplicateWriteAccess = errors.New("universe: two mutators in one pipeline write the same storage")
	// ErrNoScheduler is a fatal deployment error: every world must declare one.
	ErrNoScheduler = errors.New("universe: world has no scheduler")
	// ErrMissingMutator is a fatal deployment error for a pipeline referencing
	// an undeclared mutator or group.
	ErrMissingMutator = errors.New("universe: pipeline references unknown mutator")
	// ErrWorkerPoolClosed indicates a job could not be submitted because the
	// pipeline's worker pool already shut down.
	ErrWorkerPoolClosed = errors.New("universe: worker pool closed")
	// ErrUnknownConfiguration is returned by DeployRoot when a configuration
	// slot names a type the registry does not describe. QueryConfiguration
	// does not return it; it returns nil for an undeclared name.
	ErrUnknownConfiguration = errors.New("universe: unknown configuration slot")
)
