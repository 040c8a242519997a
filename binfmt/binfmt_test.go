package binfmt_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KonstantinTomashevich/Kan-sub009/binfmt"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

func sumResourceDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "sum_resource",
		Size: 4,
		Fields: []reflection.Field{
			{Name: "sum", Offset: 0, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
		},
	}
}

func TestWriteReadRoundTrips(t *testing.T) {
	desc := sumResourceDesc()
	reg := reflection.NewBuilder()
	reg.Define(desc)

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 12)

	var buf bytes.Buffer
	require.NoError(t, binfmt.Write(&buf, "sum_resource", desc, data))

	decoded, err := binfmt.Read(&buf, reg, "sum_resource")
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestReadRejectsTypeMismatch(t *testing.T) {
	desc := sumResourceDesc()
	other := &reflection.StructDescription{Name: "other_type", Size: 4, Fields: desc.Fields}
	reg := reflection.NewBuilder()
	reg.Define(desc)
	reg.Define(other)

	var buf bytes.Buffer
	require.NoError(t, binfmt.Write(&buf, "sum_resource", desc, make([]byte, 4)))

	_, err := binfmt.Read(&buf, reg, "other_type")
	require.ErrorIs(t, err, binfmt.ErrTypeMismatch)
}

func TestStepReportsInProgressThenFinished(t *testing.T) {
	desc := &reflection.StructDescription{
		Name: "two_field",
		Size: 8,
		Fields: []reflection.Field{
			{Name: "a", Offset: 0, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
			{Name: "b", Offset: 4, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
		},
	}
	reg := reflection.NewBuilder()
	reg.Define(desc)

	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], 1)
	binary.LittleEndian.PutUint32(data[4:8], 2)

	var buf bytes.Buffer
	require.NoError(t, binfmt.Write(&buf, "two_field", desc, data))

	reader, err := binfmt.NewReader(&buf, reg, "two_field")
	require.NoError(t, err)

	status, err := reader.Step() // header
	require.NoError(t, err)
	require.Equal(t, binfmt.InProgress, status)

	status, err = reader.Step() // field a
	require.NoError(t, err)
	require.Equal(t, binfmt.InProgress, status)

	status, err = reader.Step() // field b
	require.NoError(t, err)
	require.Equal(t, binfmt.Finished, status)

	require.Equal(t, data, reader.Bytes())
}
