package resourcebuild

import "errors"

var (
	// ErrUnknownTarget is returned when a requested target is not declared
	// in the project definition.
	ErrUnknownTarget = errors.New("resourcebuild: unknown target")
	// ErrMissingWorkspace indicates the workspace root could not be created
	// or is not writable — a FATAL-class error.
	ErrMissingWorkspace = errors.New("resourcebuild: missing or unwritable workspace")
	// ErrPlatformConfiguration indicates the platform-configuration layer
	// list or one of its layers could not be read — a FATAL-class error.
	ErrPlatformConfiguration = errors.New("resourcebuild: unreadable platform configuration")
	// ErrUnknownBuildRule is returned when an entry's type or a platform
	// configuration type has no description in the reflection registry.
	// Entry types without a build rule are not an error; the planner skips them.
	ErrUnknownBuildRule = errors.New("resourcebuild: no build rule for type")
	// ErrReferenceCycle indicates the reference-resolution graph contains a
	// cycle, a hard error per spec.
	ErrReferenceCycle = errors.New("resourcebuild: reference cycle detected")
	// ErrUnknownByproductType is returned when a byproduct is registered for
	// a type the reflection registry has no description for.
	ErrUnknownByproductType = errors.New("resourcebuild: unknown byproduct type")
	// ErrUnitFailed marks a single build unit FAILED; collected, not
	// returned directly, by Build.
	ErrUnitFailed = errors.New("resourcebuild: build unit failed")
)
