// Package universe implements the pipeline-of-mutators execution model on
// top of the repository package: hierarchical worlds, declarative world
// definitions, a per-pipeline CPU workflow graph, and a pluggable scheduler
// contract.
package universe

import (
	"context"
	"time"

	"github.com/KonstantinTomashevich/Kan-sub009/kanlog"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// Mutator is a named unit of work scheduled within a pipeline: a deploy
// function run once at pipeline construction, an execute function run once
// per RunPipeline call, and an undeploy function run on world teardown.
type Mutator interface {
	Descriptor() MutatorDescriptor
	Deploy(ctx context.Context, w *World) error
	Execute(ctx context.Context, job JobHandle) error
	Undeploy(ctx context.Context, w *World) error
}

// MutatorDescriptor declares a mutator's repository access footprint and
// scheduling preferences, mirroring the teacher's SystemDescriptor.
type MutatorDescriptor struct {
	Name         string
	Group        string
	Reads        []string // repository storage type names read during Execute
	Writes       []string // repository storage type names written during Execute
	DependsOn    []string // mutator or group names that must complete first
	AsyncAllowed bool
}

// MutatorGroupMeta is a reflection.Meta kind naming a mutator group,
// mirroring the source's function-level mutator_group_meta. Pipelines do
// not read it: group membership comes from MutatorDescriptor.Group.
type MutatorGroupMeta struct {
	Group string
}

func (MutatorGroupMeta) Kind() string { return "mutator_group" }

// JobHandle is the task-graph handle passed to a mutator's Execute. A
// mutator may enqueue additional detached tasks; the pipeline boundary is
// not reached until they complete.
type JobHandle interface {
	World() *World
	TickIndex() uint64
	TimeDelta() time.Duration
	Logger() kanlog.Logger
	Tracer() Tracer
	Spawn(fn func(context.Context) error)
}

// Tracer coordinates tracing spans for observability tooling.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, TraceSpan)
}

// TraceSpan represents an active tracing region.
type TraceSpan interface {
	End()
}

// PrometheusCollector receives per-mutator execution summaries.
type PrometheusCollector interface {
	ObserveMutator(summary MutatorSummary)
}

// SigNozExporter receives per-mutator execution summaries for span export.
type SigNozExporter interface {
	ExportMutator(summary MutatorSummary)
}

// Observer receives summaries after a mutator finishes execution.
type Observer interface {
	MutatorCompleted(summary MutatorSummary)
}

// MutatorSummary captures execution metadata for one mutator run.
type MutatorSummary struct {
	Mutator  string
	Pipeline string
	World    string
	Tick     uint64
	Duration time.Duration
	Skipped  bool
	Err      error
	Reads    []string
	Writes   []string
}

// InstrumentationConfig configures logging, tracing, and metrics sinks for a
// world's pipelines, mirroring the teacher's InstrumentationConfig.
type InstrumentationConfig struct {
	EnableStructuredLogging bool
	StructuredLogger        kanlog.Logger
	EnablePrometheus        bool
	PrometheusCollector     PrometheusCollector
	EnableSigNoz            bool
	SigNozExporter          SigNozExporter
	Observer                Observer
}

// WorldDefinition is the declarative tree mirroring the world tree: a name,
// a scheduler, a set of named configuration patches, pipelines, and
// children, deployed in one call to DeployRoot.
type WorldDefinition struct {
	Name          string
	Scheduler     SchedulerFunc
	Configuration []ConfigurationSlot
	Pipelines     []PipelineDefinition
	Children      []WorldDefinition
	Instrumentation InstrumentationConfig
}

// ConfigurationSlot declares a named, typed configuration instance realised
// by applying ordered reflection patches over a zero-initialised struct.
type ConfigurationSlot struct {
	Name   string
	Type   string // struct type name resolved against the reflection registry
	Layers []reflection.PatchChunk
}

// PipelineDefinition declares one pipeline's ordered mutator/group
// membership, resolved to a dependency DAG at deploy time.
type PipelineDefinition struct {
	Name          string
	Mutators      []Mutator
	MutatorGroups []string
}

// Registry is the reflection registry a world's repository is built from;
// re-exported so callers constructing a WorldDefinition don't need to
// import the reflection package directly for this one type.
type Registry = reflection.Registry
