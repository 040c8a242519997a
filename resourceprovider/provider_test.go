package resourceprovider_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/repository"
	"github.com/KonstantinTomashevich/Kan-sub009/resourceprovider"
	"github.com/KonstantinTomashevich/Kan-sub009/universe"
	"github.com/KonstantinTomashevich/Kan-sub009/watch"
)

// fakeWatcher implements resourceprovider.Watcher directly, letting a test
// drive a hot-reload tick without depending on fsnotify's own timing.
type fakeWatcher struct {
	events chan watch.ChangeEvent
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan watch.ChangeEvent, 8)}
}

func (f *fakeWatcher) Events() <-chan watch.ChangeEvent { return f.events }

func (f *fakeWatcher) Close() error {
	close(f.events)
	return nil
}

func (f *fakeWatcher) notify(path string) {
	f.events <- watch.ChangeEvent{Path: path, Op: watch.OpWrite}
}

func widgetDesc() *reflection.StructDescription {
	return &reflection.StructDescription{
		Name: "widget_resource",
		Size: 12,
		Fields: []reflection.Field{
			{Name: "label", Offset: 0, Size: 8, Alignment: 1, Archetype: reflection.ArchetypeString},
			{Name: "count", Offset: 8, Size: 4, Alignment: 4, Archetype: reflection.ArchetypeInteger},
		},
	}
}

func putField(buf []byte, f reflection.Field, s string) {
	region := buf[f.Offset : f.Offset+f.Size]
	n := copy(region, s)
	for i := n; i < len(region); i++ {
		region[i] = 0
	}
}

func putInt32Field(buf []byte, f reflection.Field, v int32) {
	region := buf[f.Offset : f.Offset+f.Size]
	for i := range region {
		region[i] = byte(v >> (8 * uint(i)))
	}
}

// testWorld wires a single-mutator pipeline running just the resource
// provider under test, mirroring universe_test.go's recordingMutator setup.
type testWorld struct {
	reg *reflection.Builder
	w   *universe.World
}

func deployWithProvider(t *testing.T, dir string) (*testWorld, *resourceprovider.Provider) {
	t.Helper()
	return deployWithProviderConfig(t, resourceprovider.Config{VirtualDirectory: dir})
}

// deployWithProviderConfig is deployWithProvider with full control over the
// provider's Config, letting a test inject a Watcher to drive hot reload.
func deployWithProviderConfig(t *testing.T, cfg resourceprovider.Config) (*testWorld, *resourceprovider.Provider) {
	t.Helper()
	reg := reflection.NewBuilder()
	reg.Define(widgetDesc())
	resourceprovider.RegisterSchema(reg)

	provider := resourceprovider.New(cfg, reg, nil)

	def := universe.WorldDefinition{
		Name: "root",
		Scheduler: func(ctx context.Context, handle universe.SchedulerHandle) error {
			return handle.RunPipeline(ctx, "resources")
		},
		Pipelines: []universe.PipelineDefinition{
			{Name: "resources", Mutators: []universe.Mutator{provider}},
		},
	}
	w, err := universe.DeployRoot(context.Background(), reg, nil, def)
	require.NoError(t, err)
	return &testWorld{reg: reg, w: w}, provider
}

func writeRD(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name+".rd")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// insertUsageRecord inserts a resource_usage_record directly against the
// repository, the way a consuming mutator group would reference a resource
// it depends on, per spec.md §4.5's usage-driven loading contract.
func insertUsageRecord(t *testing.T, tw *testWorld, typeName, name string, priority int32) {
	t.Helper()
	desc, ok := tw.reg.StructByName(resourceprovider.TypeUsageRecord)
	require.True(t, ok)

	storage, ok := tw.w.Repository().FindIndexed(resourceprovider.TypeUsageRecord)
	require.True(t, ok)
	pkg, err := storage.BeginInsert()
	require.NoError(t, err)
	require.NotNil(t, pkg)

	data := pkg.Data()
	typeField, _ := desc.FieldByName("type")
	nameField, _ := desc.FieldByName("name")
	keyField, _ := desc.FieldByName("key")
	priorityField, _ := desc.FieldByName("priority")

	putField(data, typeField, typeName)
	putField(data, nameField, name)
	key := typeName + "\x00" + name
	if len(key) > int(keyField.Size) {
		key = key[:keyField.Size]
	}
	putField(data, keyField, key)
	putInt32Field(data, priorityField, priority)

	_, err = pkg.Submit()
	require.NoError(t, err)
}

// registerFetcher must be called before the first Update that might produce
// eventType: an EventStorage elides production entirely while it has no
// live fetch query registered.
func registerFetcher(t *testing.T, tw *testWorld, eventType string) *repository.FetchQuery {
	t.Helper()
	storage, err := tw.w.Repository().OpenEvent(eventType)
	require.NoError(t, err)
	return storage.NewFetchQuery()
}

func drainCount(fq *repository.FetchQuery) int {
	count := 0
	for {
		if _, ok := fq.Next(); !ok {
			break
		}
		count++
	}
	return count
}

func TestProviderRegistersNativeEntries(t *testing.T) {
	dir := t.TempDir()
	writeRD(t, dir, "lamp", "//! type = widget_resource\nlabel = lamp\ncount = 1\n")

	tw, _ := deployWithProvider(t, dir)
	fq := registerFetcher(t, tw, resourceprovider.EventRegistered)
	defer fq.Close()
	require.NoError(t, tw.w.Update(context.Background(), time.Millisecond))

	require.Equal(t, 1, drainCount(fq))
}

func TestProviderNotLoadedWithoutUsage(t *testing.T) {
	dir := t.TempDir()
	writeRD(t, dir, "lamp", "//! type = widget_resource\nlabel = lamp\ncount = 1\n")

	tw, provider := deployWithProvider(t, dir)
	require.NoError(t, tw.w.Update(context.Background(), time.Millisecond))

	_, loaded := provider.RetrieveLoaded("widget_resource", "lamp", false)
	require.False(t, loaded, "no usage record yet, entry must not be loaded")
}

func TestProviderLoadsOnFirstUsageAndUnloadsWhenUnused(t *testing.T) {
	dir := t.TempDir()
	writeRD(t, dir, "lamp", "//! type = widget_resource\nlabel = lamp\ncount = 1\n")

	tw, provider := deployWithProvider(t, dir)
	fq := registerFetcher(t, tw, resourceprovider.EventLoaded)
	defer fq.Close()
	ctx := context.Background()
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))

	insertUsageRecord(t, tw, "widget_resource", "lamp", 5)
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))

	payload, loaded := provider.RetrieveLoaded("widget_resource", "lamp", false)
	require.True(t, loaded)
	require.NotNil(t, payload)
	require.Equal(t, 1, drainCount(fq))

	usageStorage, ok := tw.w.Repository().FindIndexed(resourceprovider.TypeUsageRecord)
	require.True(t, ok)
	ids := usageStorage.SequenceCursor()
	require.Len(t, ids, 1)
	require.NoError(t, usageStorage.Delete(ids[0]))

	require.NoError(t, tw.w.Update(ctx, time.Millisecond))
	_, stillLoaded := provider.RetrieveLoaded("widget_resource", "lamp", false)
	require.False(t, stillLoaded, "usage dropped to zero, entry must be unloaded")
}

func TestProviderLoadsEveryUsedEntryWithUnlimitedBudget(t *testing.T) {
	dir := t.TempDir()
	writeRD(t, dir, "low", "//! type = widget_resource\nlabel = low_item\ncount = 1\n")
	writeRD(t, dir, "high", "//! type = widget_resource\nlabel = high_item\ncount = 2\n")

	tw, provider := deployWithProvider(t, dir)
	ctx := context.Background()
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))

	insertUsageRecord(t, tw, "widget_resource", "low", 1)
	insertUsageRecord(t, tw, "widget_resource", "high", 9)
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))

	_, lowLoaded := provider.RetrieveLoaded("widget_resource", "low", false)
	_, highLoaded := provider.RetrieveLoaded("widget_resource", "high", false)
	require.True(t, lowLoaded)
	require.True(t, highLoaded)
}

func TestProviderHotReloadEmitsUpdatedEventAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeRD(t, dir, "lamp", "//! type = widget_resource\nlabel = lamp\ncount = 1\n")

	watcher := newFakeWatcher()
	tw, provider := deployWithProviderConfig(t, resourceprovider.Config{VirtualDirectory: dir, Watcher: watcher})
	fq := registerFetcher(t, tw, resourceprovider.EventUpdated)
	defer fq.Close()
	ctx := context.Background()
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))

	insertUsageRecord(t, tw, "widget_resource", "lamp", 0)
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))
	_, loaded := provider.RetrieveLoaded("widget_resource", "lamp", false)
	require.True(t, loaded)

	require.NoError(t, os.WriteFile(path, []byte("//! type = widget_resource\nlabel = lamp\ncount = 2\n"), 0o644))
	watcher.notify(path)
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))

	require.Equal(t, 1, drainCount(fq))
}

func TestProviderThirdPartyBlobBecomesAvailable(t *testing.T) {
	dir := t.TempDir()
	blobPath := filepath.Join(dir, "texture.png")
	require.NoError(t, os.WriteFile(blobPath, []byte("binary-ish-bytes"), 0o644))

	tw, _ := deployWithProvider(t, dir)
	fq := registerFetcher(t, tw, resourceprovider.EventBlobAvailable)
	defer fq.Close()
	ctx := context.Background()
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))
	require.NoError(t, tw.w.Update(ctx, time.Millisecond))

	require.Equal(t, 1, drainCount(fq))
}
