package resourcebuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Build runs the full offline build graph for setup: scan, reference
// resolution, planning, execution and deploy, for every requested target.
// Fatal errors (missing workspace, unreadable platform configuration) stop
// the build immediately; a build-rule failure degrades the result to
// PARTIAL_FAILURE but still deploys every unit that did succeed.
func Build(ctx context.Context, setup Setup) Result {
	if err := os.MkdirAll(setup.Project.WorkspaceRoot, 0o755); err != nil {
		return Result{Status: Fatal, Err: fmt.Errorf("%w: %v", ErrMissingWorkspace, err)}
	}

	cache, err := OpenCache(filepath.Join(setup.Project.WorkspaceRoot, "build_cache.bbolt"))
	if err != nil {
		return Result{Status: Fatal, Err: err}
	}
	defer cache.Close()

	targets := setup.TargetsToBuild
	if len(targets) == 0 {
		for _, t := range setup.Project.Targets {
			targets = append(targets, t.Name)
		}
	}

	result := Result{Status: Success}
	for _, targetName := range targets {
		target, ok := setup.Project.TargetByName(targetName)
		if !ok {
			return Result{Status: Fatal, Err: fmt.Errorf("%w: %q", ErrUnknownTarget, targetName)}
		}

		targetResult, err := buildTarget(ctx, setup, target, cache)
		if err != nil {
			return Result{Status: Fatal, Err: err}
		}

		result.BuiltUnits += targetResult.BuiltUnits
		result.SkippedUnits += targetResult.SkippedUnits
		result.FailedUnits = append(result.FailedUnits, targetResult.FailedUnits...)
		if targetResult.Status == PartialFailure {
			result.Status = PartialFailure
		}
	}

	return result
}

func buildTarget(ctx context.Context, setup Setup, target Target, cache *Cache) (Result, error) {
	entries, err := Scan(target)
	if err != nil {
		return Result{}, fmt.Errorf("resourcebuild: scanning target %q: %w", target.Name, err)
	}

	refs, _ := ResolveReferences(entries, setup.Registry)
	// Unresolved references are diagnostics (spec.md §4.4 phase 2), not
	// fatal: the planner simply can't schedule a rule that depends on a
	// reference it never resolved.

	levels, err := Plan(entries, refs, setup.Registry)
	if err != nil {
		return Result{}, fmt.Errorf("resourcebuild: planning target %q: %w", target.Name, err)
	}

	platformCfg, platformHashes, err := materializeAllPlatformConfigurations(setup, levels)
	if err != nil {
		return Result{}, err
	}

	contentHashes := make(map[string][32]byte, len(entries))
	for _, e := range entries {
		if e.Kind != EntryThirdParty {
			contentHashes[entryKey(e)] = e.ContentHash
		}
	}

	byproducts := NewByproductRegistry(setup.Registry)
	ex := newExecutor(setup.Registry, cache, byproducts, platformCfg, platformHashes, contentHashes)

	results, runErr := ex.Run(ctx, levels)

	var failedNames []string
	built, skipped := 0, 0
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Status == Finished:
			built++
		default:
			failedNames = append(failedNames, r.Entry.Name)
		}
	}

	if err := Deploy(setup.Project.WorkspaceRoot, results, byproducts.DrainFresh(), setup.Pack); err != nil {
		return Result{}, fmt.Errorf("resourcebuild: deploying target %q: %w", target.Name, err)
	}

	status := Success
	if len(failedNames) > 0 || runErr != nil {
		status = PartialFailure
	}
	return Result{Status: status, BuiltUnits: built, SkippedUnits: skipped, FailedUnits: failedNames, Err: runErr}, nil
}

// materializeAllPlatformConfigurations realises one configuration instance
// per distinct platform_configuration_type referenced by a scheduled
// unit's build rule.
func materializeAllPlatformConfigurations(setup Setup, levels [][]ScheduledUnit) (map[string][]byte, []string, error) {
	needed := make(map[string]bool)
	for _, level := range levels {
		for _, unit := range level {
			if unit.Rule.PlatformConfigurationType != "" {
				needed[unit.Rule.PlatformConfigurationType] = true
			}
		}
	}
	if len(needed) == 0 {
		return nil, nil, nil
	}

	layerNames, err := LoadPlatformLayerNames(setup.Project.PlatformConfigDir, 64)
	if err != nil {
		return nil, nil, err
	}

	out := make(map[string][]byte, len(needed))
	var hashes []string
	for typeName := range needed {
		desc, ok := setup.Registry.StructByName(typeName)
		if !ok {
			return nil, nil, fmt.Errorf("%w: platform configuration type %q", ErrUnknownBuildRule, typeName)
		}
		data, layerHashes, err := MaterializePlatformConfiguration(setup.Project.PlatformConfigDir, layerNames, desc)
		if err != nil {
			return nil, nil, err
		}
		out[typeName] = data
		hashes = layerHashes
	}
	return out, hashes, nil
}
