package universe_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/universe"
)

type recordingMutator struct {
	universe.BaseMutator
	order *[]string
	mu    *sync.Mutex
}

func (m recordingMutator) Execute(ctx context.Context, job universe.JobHandle) error {
	m.mu.Lock()
	*m.order = append(*m.order, m.Desc.Name)
	m.mu.Unlock()
	return nil
}

func counterDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "tick_counter",
		Size: 4,
		Fields: []reflection.Field{
			{Name: "value", Offset: 0, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
		},
	}
}

func TestDeployRootRunsMutatorsInDependencyOrder(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(counterDesc())

	var order []string
	var mu sync.Mutex

	producer := recordingMutator{
		BaseMutator: universe.BaseMutator{Desc: universe.MutatorDescriptor{Name: "producer", Writes: []string{"tick_counter"}}},
		order:       &order, mu: &mu,
	}
	consumer := recordingMutator{
		BaseMutator: universe.BaseMutator{Desc: universe.MutatorDescriptor{Name: "consumer", Reads: []string{"tick_counter"}, DependsOn: []string{"producer"}}},
		order:       &order, mu: &mu,
	}

	ran := false
	def := universe.WorldDefinition{
		Name: "root",
		Scheduler: func(ctx context.Context, handle universe.SchedulerHandle) error {
			if err := handle.RunPipeline(ctx, "main"); err != nil {
				return err
			}
			ran = true
			return handle.UpdateAllChildren(ctx)
		},
		Pipelines: []universe.PipelineDefinition{
			{Name: "main", Mutators: []universe.Mutator{producer, consumer}},
		},
	}

	w, err := universe.DeployRoot(context.Background(), reg, nil, def)
	require.NoError(t, err)
	require.NoError(t, w.Update(context.Background(), time.Millisecond))
	require.True(t, ran)
	require.Equal(t, []string{"producer", "consumer"}, order)
}

func TestDeployRootRejectsConflictingWritesWithoutOrdering(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(counterDesc())

	var order []string
	var mu sync.Mutex

	a := recordingMutator{
		BaseMutator: universe.BaseMutator{Desc: universe.MutatorDescriptor{Name: "a", Writes: []string{"tick_counter"}}},
		order:       &order, mu: &mu,
	}
	b := recordingMutator{
		BaseMutator: universe.BaseMutator{Desc: universe.MutatorDescriptor{Name: "b", Writes: []string{"tick_counter"}}},
		order:       &order, mu: &mu,
	}

	def := universe.WorldDefinition{
		Name:      "root",
		Scheduler: func(ctx context.Context, handle universe.SchedulerHandle) error { return nil },
		Pipelines: []universe.PipelineDefinition{
			{Name: "main", Mutators: []universe.Mutator{a, b}},
		},
	}

	_, err := universe.DeployRoot(context.Background(), reg, nil, def)
	require.Error(t, err)
}

func TestChildWorldUpdatesAfterParentScheduler(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(counterDesc())

	var order []string
	var mu sync.Mutex

	childScheduler := func(ctx context.Context, handle universe.SchedulerHandle) error {
		mu.Lock()
		order = append(order, "child")
		mu.Unlock()
		return nil
	}

	def := universe.WorldDefinition{
		Name: "root",
		Scheduler: func(ctx context.Context, handle universe.SchedulerHandle) error {
			mu.Lock()
			order = append(order, "root")
			mu.Unlock()
			return handle.UpdateAllChildren(ctx)
		},
		Children: []universe.WorldDefinition{
			{Name: "child", Scheduler: childScheduler},
		},
	}

	w, err := universe.DeployRoot(context.Background(), reg, nil, def)
	require.NoError(t, err)
	require.NoError(t, w.Update(context.Background(), time.Millisecond))
	require.Equal(t, []string{"root", "child"}, order)
}

func worldConfigDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "render_config",
		Size: 4,
		Fields: []reflection.Field{
			{Name: "max_frames_in_flight", Offset: 0, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
		},
	}
}

func TestWorldConfigurationRealisesPatchOverZeroed(t *testing.T) {
	reg := reflection.NewBuilder()
	reg.Define(worldConfigDesc())

	want := make([]byte, 4)
	binary.LittleEndian.PutUint32(want, 3)

	def := universe.WorldDefinition{
		Name:      "root",
		Scheduler: func(ctx context.Context, handle universe.SchedulerHandle) error { return nil },
		Configuration: []universe.ConfigurationSlot{
			{Name: "render", Type: "render_config", Layers: []reflection.PatchChunk{{Offset: 0, Bytes: want}}},
		},
	}

	w, err := universe.DeployRoot(context.Background(), reg, nil, def)
	require.NoError(t, err)
	data := w.QueryConfiguration("render")
	require.Equal(t, want, data)
	require.Nil(t, w.QueryConfiguration("missing"))
}
