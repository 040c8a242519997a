package repository_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/repository"
)

func int32Field(name string, offset uintptr) reflection.Field {
	return reflection.Field{Name: name, Offset: offset, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger}
}

func putInt32(buf []byte, offset uintptr, v int32) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(v))
}

func getInt32(buf []byte, offset uintptr) int32 {
	return int32(binary.LittleEndian.Uint32(buf[offset : offset+4]))
}

func float64Field(name string, offset uintptr) reflection.Field {
	return reflection.Field{Name: name, Offset: offset, Size: 8, Alignment: 8, Archetype: reflection.ArchetypeFloat}
}

func putFloat64(buf []byte, offset uintptr, v float64) {
	binary.LittleEndian.PutUint64(buf[offset:offset+8], math.Float64bits(v))
}

// statsChanged is the event struct fired when "counter" singleton changes.
func statsChangedDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "stats_changed",
		Size: 16,
		Fields: []reflection.Field{
			int32Field("old_a", 0),
			int32Field("new_a", 4),
			int32Field("old_b", 8),
			int32Field("new_b", 12),
		},
	}
}

func statsDesc() *reflection.StructDescription {
	d := &reflection.StructDescription{
		Name: "stats",
		Size: 8,
		Fields: []reflection.Field{
			int32Field("a", 0),
			int32Field("b", 4),
		},
	}
	d2 := d
	return d2
}

func newTestRegistry() *reflection.Builder {
	reg := reflection.NewBuilder()
	stats := statsDesc()
	reg.Define(stats)
	reg.Define(statsChangedDesc())
	reg.AddMeta("stats", repository.OnChangeMeta{
		EventType:      "stats_changed",
		ObservedFields: []string{"a", "b"},
		OldCopyOuts: []repository.CopyOut{
			{SourceField: "a", TargetField: "old_a"},
			{SourceField: "b", TargetField: "old_b"},
		},
		NewCopyOuts: []repository.CopyOut{
			{SourceField: "a", TargetField: "new_a"},
			{SourceField: "b", TargetField: "new_b"},
		},
	})
	return reg
}

func TestSingletonNoChangeNoEvent(t *testing.T) {
	reg := newTestRegistry()
	repo := repository.New(reg, nil)

	singleton, err := repo.OpenSingleton("stats")
	require.NoError(t, err)
	eventStorage, err := repo.OpenEvent("stats_changed")
	require.NoError(t, err)
	fetcher := eventStorage.NewFetchQuery()
	defer fetcher.Close()

	require.NoError(t, repo.EnterServing())

	wa, err := singleton.WriteAccess()
	require.NoError(t, err)
	buf := wa.Resolve()
	require.NotNil(t, buf)
	putInt32(buf, 0, getInt32(buf, 0))
	putInt32(buf, 4, getInt32(buf, 4)+0)
	require.NoError(t, wa.Close())

	_, ok := fetcher.Next()
	require.False(t, ok, "no observed field changed, no event expected")
}

func TestSingletonChangeEventCarriesOldAndNew(t *testing.T) {
	reg := newTestRegistry()
	repo := repository.New(reg, nil)

	singleton, err := repo.OpenSingleton("stats")
	require.NoError(t, err)
	eventStorage, err := repo.OpenEvent("stats_changed")
	require.NoError(t, err)
	fetcher := eventStorage.NewFetchQuery()
	defer fetcher.Close()

	require.NoError(t, repo.EnterServing())

	wa, err := singleton.WriteAccess()
	require.NoError(t, err)
	buf := wa.Resolve()
	a := getInt32(buf, 0)
	putInt32(buf, 0, a+1)
	require.NoError(t, wa.Close())

	data, ok := fetcher.Next()
	require.True(t, ok)
	require.Equal(t, a, getInt32(data, 0))       // old_a
	require.Equal(t, a+1, getInt32(data, 4))     // new_a
	require.Equal(t, int32(0), getInt32(data, 8))  // old_b
	require.Equal(t, int32(0), getInt32(data, 12)) // new_b
}

func TestSingletonWriteConflict(t *testing.T) {
	reg := newTestRegistry()
	repo := repository.New(reg, nil)
	singleton, err := repo.OpenSingleton("stats")
	require.NoError(t, err)
	require.NoError(t, repo.EnterServing())

	first, err := singleton.WriteAccess()
	require.NoError(t, err)
	require.NotNil(t, first.Resolve())

	second, err := singleton.WriteAccess()
	require.NoError(t, err)
	require.Nil(t, second.Resolve(), "concurrent writer must resolve to nil")

	require.NoError(t, first.Close())
}

func TestEventInsertWithoutSubscribersIsElided(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(&reflection.StructDescription{Name: "tick_event", Size: 4, Fields: []reflection.Field{int32Field("n", 0)}})
	repo := repository.New(reg, nil)

	evStorage, err := repo.OpenEvent("tick_event")
	require.NoError(t, err)
	require.NoError(t, repo.EnterServing())

	pkg, err := evStorage.BeginInsert()
	require.NoError(t, err)
	require.Nil(t, pkg, "insertion package must be nil with zero fetchers")
}

func ownerChildDescs() (*reflection.StructDescription, *reflection.StructDescription) {
	parent := &reflection.StructDescription{
		Name: "owner",
		Size: 4,
		Fields: []reflection.Field{
			int32Field("id", 0),
		},
	}
	child := &reflection.StructDescription{
		Name: "owned_item",
		Size: 8,
		Fields: []reflection.Field{
			int32Field("owner_id", 0),
			int32Field("value", 4),
		},
	}
	return parent, child
}

func TestCascadeDeletionRemovesChildren(t *testing.T) {
	reg := reflection.NewBuilder()
	parent, child := ownerChildDescs()
	reg.Define(parent)
	reg.Define(child)
	reg.AddMeta("owner", repository.CascadeDeletionMeta{
		ChildType:      "owned_item",
		ParentKeyField: "id",
		ChildKeyField:  "owner_id",
	})

	repo := repository.New(reg, nil)
	owners, err := repo.OpenIndexed("owner")
	require.NoError(t, err)
	items, err := repo.OpenIndexed("owned_item")
	require.NoError(t, err)
	require.NoError(t, repo.EnterServing())

	ownerPkg, err := owners.BeginInsert()
	require.NoError(t, err)
	putInt32(ownerPkg.Data(), 0, 42)
	ownerID, err := ownerPkg.Submit()
	require.NoError(t, err)

	itemPkg, err := items.BeginInsert()
	require.NoError(t, err)
	putInt32(itemPkg.Data(), 0, 42)
	putInt32(itemPkg.Data(), 4, 7)
	_, err = itemPkg.Submit()
	require.NoError(t, err)

	require.NoError(t, owners.Delete(ownerID))

	remaining, err := items.ValueQuery("owner_id", int32Bytes(42))
	require.NoError(t, err)
	require.Empty(t, remaining, "cascade deletion must remove matching children")
}

func int32Bytes(v int32) []byte {
	buf := make([]byte, 4)
	putInt32(buf, 0, v)
	return buf
}

func TestSequenceIterationVisibleExactlyOnce(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(&reflection.StructDescription{Name: "thing", Size: 4, Fields: []reflection.Field{int32Field("n", 0)}})
	repo := repository.New(reg, nil)
	storage, err := repo.OpenIndexed("thing")
	require.NoError(t, err)
	require.NoError(t, repo.EnterServing())

	for i := 0; i < 5; i++ {
		pkg, err := storage.BeginInsert()
		require.NoError(t, err)
		putInt32(pkg.Data(), 0, int32(i))
		_, err = pkg.Submit()
		require.NoError(t, err)
	}

	seen := map[int32]int{}
	for _, id := range storage.SequenceCursor() {
		access, err := storage.ReadAccess(id)
		require.NoError(t, err)
		seen[getInt32(access.Resolve(), 0)]++
		access.Close()
	}
	require.Len(t, seen, 5)
	for _, count := range seen {
		require.Equal(t, 1, count)
	}
}

func orderedDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "ordered_thing",
		Size: 16,
		Fields: []reflection.Field{
			int32Field("n", 0),
			float64Field("f", 8),
		},
	}
}

func TestIntervalQueryOrdersByNumericValueNotByteOrder(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(orderedDesc())
	repo := repository.New(reg, nil)
	storage, err := repo.OpenIndexed("ordered_thing")
	require.NoError(t, err)
	require.NoError(t, repo.EnterServing())

	// Chosen so naive little-endian byte comparison gets both fields wrong:
	// 1 = 01 00 00 00 would sort after 256 = 00 01 00 00, and a negative
	// float's sign bit would not make it sort below a positive one.
	ints := []int32{256, 1, -5, 0, 1000}
	floats := []float64{2.5, -3.5, 0, 100.0, -0.5}

	for i := range ints {
		pkg, err := storage.BeginInsert()
		require.NoError(t, err)
		putInt32(pkg.Data(), 0, ints[i])
		putFloat64(pkg.Data(), 8, floats[i])
		_, err = pkg.Submit()
		require.NoError(t, err)
	}

	ids, err := storage.IntervalQuery("n", nil, nil, false)
	require.NoError(t, err)
	require.Len(t, ids, len(ints))
	var gotInts []int32
	for _, id := range ids {
		access, err := storage.ReadAccess(id)
		require.NoError(t, err)
		gotInts = append(gotInts, getInt32(access.Resolve(), 0))
		access.Close()
	}
	require.Equal(t, []int32{-5, 0, 1, 256, 1000}, gotInts)

	ids, err = storage.IntervalQuery("n", nil, nil, true)
	require.NoError(t, err)
	var gotDesc []int32
	for _, id := range ids {
		access, err := storage.ReadAccess(id)
		require.NoError(t, err)
		gotDesc = append(gotDesc, getInt32(access.Resolve(), 0))
		access.Close()
	}
	require.Equal(t, []int32{1000, 256, 1, 0, -5}, gotDesc)

	lowerBound := make([]byte, 4)
	putInt32(lowerBound, 0, 0)
	ids, err = storage.IntervalQuery("n", &repository.IntervalBound{Value: lowerBound, Closed: true}, nil, false)
	require.NoError(t, err)
	require.Len(t, ids, 4) // 0, 1, 256, 1000; -5 excluded by the closed-at-0 lower bound

	ids, err = storage.IntervalQuery("f", nil, nil, false)
	require.NoError(t, err)
	var gotFloats []float64
	for _, id := range ids {
		access, err := storage.ReadAccess(id)
		require.NoError(t, err)
		gotFloats = append(gotFloats, getFloat64(access.Resolve(), 8))
		access.Close()
	}
	require.Equal(t, []float64{-3.5, -0.5, 0, 2.5, 100.0}, gotFloats)
}

func getFloat64(buf []byte, offset uintptr) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[offset : offset+8]))
}
