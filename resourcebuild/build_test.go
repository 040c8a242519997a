package resourcebuild_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/resourcebuild"
)

func numberDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "number_resource",
		Size: 4,
		Fields: []reflection.Field{
			{Name: "value", Offset: 0, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
		},
	}
}

func writeInt32RD(t *testing.T, path string, typeName string, value int32) {
	t.Helper()
	content := "//! type = " + typeName + "\nvalue = " + strconv.Itoa(int(value)) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func doublingFunctor(ctx context.Context, state *resourcebuild.CompileState) (resourcebuild.UnitStatus, error) {
	value := int32(binary.LittleEndian.Uint32(state.PrimaryInput[0:4]))
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(value*2))
	state.PrimaryOutput = out
	return resourcebuild.Finished, nil
}

func TestBuildDoublesAndDeploysThenSkipsOnRebuild(t *testing.T) {
	reg := reflection.NewBuilder()
	numDesc := numberDesc()
	reg.Define(numDesc)
	reg.AddMeta("number_resource", resourcebuild.ResourceTypeMeta{Root: true})
	reg.AddMeta("number_resource", resourcebuild.BuildRuleMeta{
		PrimaryInputType: "number_resource",
		Functor:          doublingFunctor,
	})

	workspace := t.TempDir()
	targetRoot := t.TempDir()
	writeInt32RD(t, filepath.Join(targetRoot, "seven.rd"), "number_resource", 7)

	project := resourcebuild.Project{
		WorkspaceRoot: workspace,
		Targets: []resourcebuild.Target{
			{Name: "main", Roots: []string{targetRoot}},
		},
	}
	setup := resourcebuild.Setup{Project: project, Registry: reg, TargetsToBuild: []string{"main"}}

	result := resourcebuild.Build(context.Background(), setup)
	require.Equal(t, resourcebuild.Success, result.Status)
	require.Equal(t, 1, result.BuiltUnits)
	require.Equal(t, 0, result.SkippedUnits)

	deployPath := filepath.Join(workspace, "deploy", "main", "number_resource", "seven.bin")
	data, err := os.ReadFile(deployPath)
	require.NoError(t, err)
	require.Equal(t, int32(14), int32(binary.LittleEndian.Uint32(data)))

	firstModTime, err := os.Stat(deployPath)
	require.NoError(t, err)

	result2 := resourcebuild.Build(context.Background(), setup)
	require.Equal(t, resourcebuild.Success, result2.Status)
	require.Equal(t, 0, result2.BuiltUnits)
	require.Equal(t, 1, result2.SkippedUnits)

	secondModTime, err := os.Stat(deployPath)
	require.NoError(t, err)
	require.Equal(t, firstModTime.ModTime(), secondModTime.ModTime())
}

// TestBuildInvalidatesCacheWhenSecondaryTypeSourceChanges covers §8's "edit
// 1.txt => rebuild test_1_2" scenario: a rebuild must fire when a
// SecondaryTypes input changes even though the unit's own primary .rd file
// was never touched.
func TestBuildInvalidatesCacheWhenSecondaryTypeSourceChanges(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(numberDesc())
	reg.AddMeta("number_resource", resourcebuild.ResourceTypeMeta{Root: true})
	reg.AddMeta("number_resource", resourcebuild.BuildRuleMeta{
		PrimaryInputType: "number_resource",
		SecondaryTypes:   []string{"source_text"},
		Functor:          doublingFunctor,
	})

	workspace := t.TempDir()
	targetRoot := t.TempDir()
	writeInt32RD(t, filepath.Join(targetRoot, "seven.rd"), "number_resource", 7)
	sourcePath := filepath.Join(targetRoot, "note.rd")
	require.NoError(t, os.WriteFile(sourcePath, []byte("//! type = source_text\nvalue = hello\n"), 0o644))

	project := resourcebuild.Project{
		WorkspaceRoot: workspace,
		Targets:       []resourcebuild.Target{{Name: "main", Roots: []string{targetRoot}}},
	}
	setup := resourcebuild.Setup{Project: project, Registry: reg, TargetsToBuild: []string{"main"}}

	result := resourcebuild.Build(context.Background(), setup)
	require.Equal(t, resourcebuild.Success, result.Status)
	require.Equal(t, 1, result.BuiltUnits)

	result2 := resourcebuild.Build(context.Background(), setup)
	require.Equal(t, resourcebuild.Success, result2.Status)
	require.Equal(t, 0, result2.BuiltUnits)
	require.Equal(t, 1, result2.SkippedUnits, "unchanged primary and secondary inputs must hit the cache")

	require.NoError(t, os.WriteFile(sourcePath, []byte("//! type = source_text\nvalue = goodbye\n"), 0o644))

	result3 := resourcebuild.Build(context.Background(), setup)
	require.Equal(t, resourcebuild.Success, result3.Status)
	require.Equal(t, 1, result3.BuiltUnits, "editing a SecondaryTypes source must invalidate the dependent's cache entry")
	require.Equal(t, 0, result3.SkippedUnits)
}

func TestBuildFailsUnitButStillDeploysOthers(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(numberDesc())
	reg.AddMeta("number_resource", resourcebuild.ResourceTypeMeta{Root: true})
	reg.AddMeta("number_resource", resourcebuild.BuildRuleMeta{
		PrimaryInputType: "number_resource",
		Functor: func(ctx context.Context, state *resourcebuild.CompileState) (resourcebuild.UnitStatus, error) {
			return resourcebuild.Failed, nil
		},
	})

	workspace := t.TempDir()
	targetRoot := t.TempDir()
	writeInt32RD(t, filepath.Join(targetRoot, "broken.rd"), "number_resource", 1)

	setup := resourcebuild.Setup{
		Project: resourcebuild.Project{
			WorkspaceRoot: workspace,
			Targets:       []resourcebuild.Target{{Name: "main", Roots: []string{targetRoot}}},
		},
		Registry:       reg,
		TargetsToBuild: []string{"main"},
	}

	result := resourcebuild.Build(context.Background(), setup)
	require.Equal(t, resourcebuild.PartialFailure, result.Status)
	require.Contains(t, result.FailedUnits, "broken")
}
