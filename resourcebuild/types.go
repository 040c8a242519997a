// Package resourcebuild implements the offline resource build graph: a
// scan of target resource roots, reference-closure walking, build-rule
// scheduling, functor execution with byproduct deduplication, a persisted
// cache that skips up-to-date units, and deploy packaging.
package resourcebuild

import (
	"context"
	"time"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// EntryKind classifies a discovered file by how the scan phase read it.
type EntryKind int

const (
	EntryReadableData EntryKind = iota
	EntryBinarySerialized
	EntryThirdParty
)

// Entry is one discovered resource file: (target, type, name, path,
// modification time, content hash).
type Entry struct {
	Target      string
	Kind        EntryKind
	Type        string // empty for third-party entries
	Name        string
	Path        string
	ModTime     time.Time
	ContentHash [32]byte
}

// ByproductEntry is a content-addressed entry synthesised by a compile
// rule via RegisterByproduct, interned by fingerprint so many root
// compilations can share it.
type ByproductEntry struct {
	Type        string
	Fingerprint string
	Value       []byte
}

// Target is one named resource root set within a project: the roots to
// scan and the other targets it may reference.
type Target struct {
	Name       string
	Roots      []string
	Visibility []string
}

// Project is a workspace directory, a platform-configuration directory,
// and an ordered list of targets.
type Project struct {
	WorkspaceRoot      string
	PlatformConfigDir  string
	Targets            []Target
}

// TargetByName looks up a declared target.
func (p Project) TargetByName(name string) (Target, bool) {
	for _, t := range p.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// ResourceTypeMeta is struct-level meta (kind "resource_type") declaring
// whether instances of this type are build roots.
type ResourceTypeMeta struct {
	Root bool
}

func (ResourceTypeMeta) Kind() string { return "resource_type" }

// ResourceReferenceMeta is field-level meta (kind "resource_reference")
// declaring that a field holds the name of another resource instance of
// the given type.
type ResourceReferenceMeta struct {
	ReferencedType string
}

func (ResourceReferenceMeta) Kind() string { return "resource_reference" }

// ByproductTypeMeta is struct-level meta (kind "byproduct_type") declaring
// how to fingerprint instances of a byproduct type for deduplication. Only
// Hash is consulted; when it is nil the fingerprint is the sha256 of the
// bytes. Equal is never called: instances with equal fingerprints are
// treated as the same byproduct.
type ByproductTypeMeta struct {
	Hash  func(value []byte) uint64
	Equal func(a, b []byte) bool
}

func (ByproductTypeMeta) Kind() string { return "byproduct_type" }

// UnitStatus is a build functor's per-call result.
type UnitStatus int

const (
	Finished UnitStatus = iota
	InProgress
	Failed
)

// CompileState is the per-invocation scratch passed to a build rule's
// functor: the primary input, the output buffer being built, the
// materialised platform configuration (if the rule declared one),
// secondary-input dependencies, and the RegisterByproduct callback.
type CompileState struct {
	PrimaryInputType string
	PrimaryInput     []byte
	PrimaryOutput    []byte

	PlatformConfiguration []byte
	Dependencies          map[string][]byte

	// State is preserved across calls for a functor that returns
	// InProgress; nil on the first call.
	State []byte

	RegisterByproduct func(byproductType string, value []byte) (string, error)
}

// BuildFunctor compiles one scheduled unit, possibly across multiple
// calls when it returns InProgress.
type BuildFunctor func(ctx context.Context, state *CompileState) (UnitStatus, error)

// BuildRuleMeta is struct-level meta (kind "resource_build_rule")
// declaring a type's compile rule.
type BuildRuleMeta struct {
	PrimaryInputType          string
	PlatformConfigurationType string
	SecondaryTypes            []string
	Functor                   BuildFunctor
}

func (BuildRuleMeta) Kind() string { return "resource_build_rule" }

// Status is the overall build result.
type Status int

const (
	Success Status = iota
	PartialFailure
	Fatal
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case PartialFailure:
		return "PARTIAL_FAILURE"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Setup is the build graph's input: the project, the reflection registry
// describing resource/reference/build-rule/byproduct meta, which targets
// to build, whether to pack deploy outputs, and log verbosity.
type Setup struct {
	Project        Project
	Registry       reflection.Registry
	TargetsToBuild []string
	Pack           bool
	LogVerbosity   int
}

// Result summarises one Build call.
type Result struct {
	Status       Status
	BuiltUnits   int
	SkippedUnits int
	FailedUnits  []string
	Err          error
}
