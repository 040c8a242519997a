package resourcebuild

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// UnitResult is the outcome of compiling one scheduled unit.
type UnitResult struct {
	Entry    Entry
	Status   UnitStatus
	Output   []byte
	Skipped  bool
	Err      error
}

// executor runs a plan's levels to completion, dispatching independent
// units within a level concurrently (spec.md §4.4 "Orderings and
// tie-breaks": independent units may run concurrently within one build).
type executor struct {
	registry       reflection.Registry
	cache          *Cache
	byproducts     *ByproductRegistry
	platformCfg    map[string][]byte // configuration type name -> materialised bytes, per target
	platformHashes []string
	contentHashes  map[string][32]byte // entry key -> content hash, for secondaryFingerprint

	mu      sync.Mutex
	outputs map[string][]byte // entry key -> primary output bytes, for secondary pull-ins
	failed  map[string]bool
}

func newExecutor(registry reflection.Registry, cache *Cache, byproducts *ByproductRegistry, platformCfg map[string][]byte, platformHashes []string, contentHashes map[string][32]byte) *executor {
	return &executor{
		registry:       registry,
		cache:          cache,
		byproducts:     byproducts,
		platformCfg:    platformCfg,
		platformHashes: platformHashes,
		contentHashes:  contentHashes,
		outputs:        make(map[string][]byte),
		failed:         make(map[string]bool),
	}
}

// Run executes every level in order, waiting for a level to finish before
// starting the next (dependents always live in a later level than their
// dependencies, by construction of levelize).
func (ex *executor) Run(ctx context.Context, levels [][]ScheduledUnit) ([]UnitResult, error) {
	var all []UnitResult
	var errs *multierror.Error

	for _, level := range levels {
		results := make([]UnitResult, len(level))
		var wg sync.WaitGroup
		for i, unit := range level {
			wg.Add(1)
			go func(i int, unit ScheduledUnit) {
				defer wg.Done()
				results[i] = ex.runUnit(ctx, unit)
			}(i, unit)
		}
		wg.Wait()

		for _, res := range results {
			all = append(all, res)
			if res.Err != nil {
				errs = multierror.Append(errs, fmt.Errorf("resourcebuild: unit %q: %w", res.Entry.Name, res.Err))
			}
		}
	}

	if errs != nil {
		return all, errs.ErrorOrNil()
	}
	return all, nil
}

func (ex *executor) runUnit(ctx context.Context, unit ScheduledUnit) UnitResult {
	key := entryKey(unit.Entry)

	if ex.dependencyFailed(unit) {
		ex.markFailed(key)
		return UnitResult{Entry: unit.Entry, Status: Failed, Err: fmt.Errorf("%w: dependency failed", ErrUnitFailed)}
	}

	secondaryFingerprint := ex.secondaryFingerprint(unit)
	platformBytes := ex.platformCfg[unit.Rule.PlatformConfigurationType]

	if ex.cache != nil {
		rec, found, err := ex.cache.Get(unit.Entry.Target, unit.Entry.Name, unit.Rule.PrimaryInputType)
		if err == nil && found && rec.UpToDate(unit.Entry, secondaryFingerprint, ex.platformHashes) {
			ex.recordOutput(key, nil)
			return UnitResult{Entry: unit.Entry, Skipped: true, Status: Finished}
		}
	}

	input, err := LoadEntry(unit.Entry, ex.registry)
	if err != nil {
		ex.markFailed(key)
		return UnitResult{Entry: unit.Entry, Status: Failed, Err: err}
	}

	deps := make(map[string][]byte, len(unit.DependsOn))
	ex.mu.Lock()
	for _, dep := range unit.DependsOn {
		deps[dep] = ex.outputs[dep]
	}
	ex.mu.Unlock()

	state := &CompileState{
		PrimaryInputType:      unit.Rule.PrimaryInputType,
		PrimaryInput:          input,
		PlatformConfiguration: platformBytes,
		Dependencies:          deps,
	}
	if ex.byproducts != nil {
		state.RegisterByproduct = ex.byproducts.Register
	}

	for {
		select {
		case <-ctx.Done():
			ex.markFailed(key)
			return UnitResult{Entry: unit.Entry, Status: Failed, Err: ctx.Err()}
		default:
		}

		status, err := unit.Rule.Functor(ctx, state)
		if err != nil {
			ex.markFailed(key)
			return UnitResult{Entry: unit.Entry, Status: Failed, Err: err}
		}
		switch status {
		case Failed:
			ex.markFailed(key)
			return UnitResult{Entry: unit.Entry, Status: Failed, Err: ErrUnitFailed}
		case InProgress:
			continue
		case Finished:
			if ex.cache != nil {
				rec := CacheRecord{
					ContentHash:          unit.Entry.ContentHash,
					ModTime:              unit.Entry.ModTime,
					SecondaryFingerprint: secondaryFingerprint,
					PlatformLayerHashes:  append([]string(nil), ex.platformHashes...),
				}
				if err := ex.cache.Put(unit.Entry.Target, unit.Entry.Name, unit.Rule.PrimaryInputType, rec); err != nil {
					return UnitResult{Entry: unit.Entry, Status: Failed, Err: err}
				}
			}
			ex.recordOutput(key, state.PrimaryOutput)
			return UnitResult{Entry: unit.Entry, Status: Finished, Output: state.PrimaryOutput}
		}
	}
}

func (ex *executor) dependencyFailed(unit ScheduledUnit) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, dep := range unit.DependsOn {
		if ex.failed[dep] {
			return true
		}
	}
	return false
}

func (ex *executor) markFailed(key string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.failed[key] = true
}

func (ex *executor) recordOutput(key string, output []byte) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.outputs[key] = output
}

// secondaryFingerprint hashes the dependency set's own content hashes into
// a single string, invalidating the cache when any dependency's content
// changes even if this entry's own file did not. unit.DependsOn is sorted
// by Plan, so the encoding is order-stable; a dependency outside the scan
// (shouldn't happen, Plan only records resolved keys) contributes a zero
// hash rather than panicking.
func (ex *executor) secondaryFingerprint(unit ScheduledUnit) string {
	if len(unit.DependsOn) == 0 {
		return ""
	}
	parts := make([]string, 0, len(unit.DependsOn))
	for _, dep := range unit.DependsOn {
		hash := ex.contentHashes[dep]
		parts = append(parts, dep+":"+hex.EncodeToString(hash[:]))
	}
	return fingerprintOfStrings(parts)
}
