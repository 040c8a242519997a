package rdfmt_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KonstantinTomashevich/Kan-sub009/rdfmt"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

func sumResourceDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "sum_resource",
		Size: 16,
		Fields: []reflection.Field{
			{Name: "name", Offset: 0, Size: 8, Alignment: 1, Archetype: reflection.ArchetypeString},
			{Name: "sum", Offset: 8, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
		},
	}
}

func TestReadParsesHeaderAndScalars(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(sumResourceDesc())

	text := "//! type = sum_resource\n" +
		"name = test_1_2\n" +
		"sum = 3\n"

	typeName, data, err := rdfmt.Read(strings.NewReader(text), reg)
	require.NoError(t, err)
	require.Equal(t, "sum_resource", typeName)

	v := rdfmt.Extract(sumResourceDesc(), data)
	nameField, ok := v.Get("name")
	require.True(t, ok)
	require.Equal(t, "test_1_2", nameField.Scalar)
	sumField, ok := v.Get("sum")
	require.True(t, ok)
	require.Equal(t, "3", sumField.Scalar)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	reg := reflection.NewBuilder()
	desc := sumResourceDesc()
	reg.Define(desc)

	original := &rdfmt.Value{Fields: map[string]*rdfmt.Value{
		"name": {Scalar: "test_2_3"},
		"sum":  {Scalar: "5"},
	}}
	data, err := rdfmt.Populate(desc, original)
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, rdfmt.Write(&sb, "sum_resource", desc, data))

	typeName, roundTripped, err := rdfmt.Read(strings.NewReader(sb.String()), reg)
	require.NoError(t, err)
	require.Equal(t, "sum_resource", typeName)
	require.Equal(t, data, roundTripped)
}

func rootResourceDesc(childDesc *reflection.StructDescription) *reflection.StructDescription {
	return &reflection.StructDescription{
		Name:      "root_resource",
		Size:      childDesc.Size * 2,
		Alignment: childDesc.Alignment,
		Fields: []reflection.Field{
			{
				Name: "needed_sums", Offset: 0, Size: childDesc.Size * 2, Alignment: childDesc.Alignment,
				Archetype: reflection.ArchetypeArray, ArrayLength: 2, ElementStruct: childDesc,
			},
		},
	}
}

func TestReadPopulatesNestedArrayOfStructs(t *testing.T) {
	entryDesc := &reflection.StructDescription{
		Name: "entry_ref", Size: 8,
		Fields: []reflection.Field{
			{Name: "name", Offset: 0, Size: 8, Alignment: 1, Archetype: reflection.ArchetypeString},
		},
	}
	desc := rootResourceDesc(entryDesc)
	reg := reflection.NewBuilder()
	reg.Define(desc)

	text := "//! type = root_resource\n" +
		"+needed_sums {\n" +
		"  name = test_1_2\n" +
		"}\n" +
		"+needed_sums {\n" +
		"  name = test_2_3\n" +
		"}\n"

	typeName, data, err := rdfmt.Read(strings.NewReader(text), reg)
	require.NoError(t, err)
	require.Equal(t, "root_resource", typeName)

	v := rdfmt.Extract(desc, data)
	arr, ok := v.Get("needed_sums")
	require.True(t, ok)
	require.Len(t, arr.Elements, 2)
	first, ok := arr.Elements[0].Get("name")
	require.True(t, ok)
	require.Equal(t, "test_1_2", first.Scalar)
}
