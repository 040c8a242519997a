package reflection_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

func transformVec3() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name:      "vec3",
		Size:      12,
		Alignment: 4,
		Fields: []reflection.Field{
			{Name: "x", Offset: 0, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeFloat},
			{Name: "y", Offset: 4, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeFloat},
			{Name: "z", Offset: 8, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeFloat},
		},
	}
}

func transformDescription() *reflection.StructDescription {
	vec3 := transformVec3()
	return &reflection.StructDescription{
		Name:      "transform",
		Size:      24,
		Alignment: 4,
		Fields: []reflection.Field{
			{Name: "position", Offset: 0, Size: 12, Alignment: 4, Archetype: reflection.ArchetypeStruct, ElementStruct: vec3},
			{Name: "scale", Offset: 12, Size: 12, Alignment: 4, Archetype: reflection.ArchetypeStruct, ElementStruct: vec3},
		},
	}
}

func TestResolveFieldPathDescendsIntoNestedStruct(t *testing.T) {
	resolved, err := reflection.ResolveFieldPath(transformDescription(), []string{"scale", "y"})
	require.NoError(t, err)
	require.Equal(t, uintptr(16), resolved.Offset)
	require.Equal(t, uintptr(4), resolved.Size)
	require.Equal(t, reflection.ArchetypeFloat, resolved.Archetype)
}

func TestResolveFieldPathUnknownField(t *testing.T) {
	_, err := reflection.ResolveFieldPath(transformDescription(), []string{"rotation"})
	require.ErrorIs(t, err, reflection.ErrUnknownField)
}

func TestResolveFieldPathNotDescendable(t *testing.T) {
	_, err := reflection.ResolveFieldPath(transformDescription(), []string{"scale", "y", "z"})
	require.ErrorIs(t, err, reflection.ErrNotDescendable)
}

func TestRegistryInvalidationSignalsOnDefine(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(transformDescription())

	signal := reg.Invalidated()
	reg.Define(transformVec3())

	select {
	case <-signal:
	default:
		t.Fatalf("expected invalidation channel to be closed after Define")
	}
}

func TestPatchApplyToZeroedAndMergeLayers(t *testing.T) {
	vec3 := transformVec3()
	base := reflection.NewPatch(vec3)
	base.Set(0, []byte{0, 0, 128, 63}) // x = 1.0 (float32 LE)

	override := reflection.NewPatch(vec3)
	override.Set(4, []byte{0, 0, 0, 64}) // y = 2.0

	merged := reflection.MergeLayers(vec3, []*reflection.Patch{base, override})
	buf, err := merged.ApplyToZeroed()
	require.NoError(t, err)
	require.Len(t, buf, 12)
	require.Equal(t, []byte{0, 0, 128, 63}, buf[0:4])
	require.Equal(t, []byte{0, 0, 0, 64}, buf[4:8])
	require.Equal(t, []byte{0, 0, 0, 0}, buf[8:12])
}
