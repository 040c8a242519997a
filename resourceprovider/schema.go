package resourceprovider

import (
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/repository"
)

// Fixed field widths for the provider's own repository record types. These
// are the provider's bookkeeping schema, not resource payload schemas (those
// come from the reflection registry the build graph populates), so widths
// are picked generously rather than derived from any external format.
const (
	typeFieldLen = 64
	nameFieldLen = 64
	keyFieldLen  = 132 // typeFieldLen + 1 separator + nameFieldLen, rounded up
	pathFieldLen = 256
	idFieldLen   = 40 // room for a canonical 36-char UUID plus padding
	hashFieldLen = 64 // hex-encoded sha256
)

// Entry type names, interned once here so the provider and its tests never
// hand-write the literal strings more than once.
const (
	TypeGenericEntry  = "resource_generic_entry"
	TypeTypedEntry    = "resource_typed_entry"
	TypeUsageRecord   = "resource_usage_record"
	TypeThirdPartyBlob = "resource_third_party_blob"

	EventRegistered        = "resource_registered_event"
	EventUpdated           = "resource_updated_event"
	EventLoaded            = "resource_loaded_event"
	EventLoadFailed        = "resource_load_failed_event"
	EventBlobAvailable     = "resource_blob_available_event"
	EventThirdPartyUpdated = "resource_third_party_updated_event"
)

type fieldSpec struct {
	name      string
	size      uintptr
	archetype reflection.Archetype
}

func stringField(name string, size uintptr) fieldSpec {
	return fieldSpec{name: name, size: size, archetype: reflection.ArchetypeString}
}

func intField(name string, size uintptr) fieldSpec {
	return fieldSpec{name: name, size: size, archetype: reflection.ArchetypeInteger}
}

// buildDesc packs specs sequentially with no alignment padding: this is the
// provider's own bookkeeping layout, not a foreign ABI, so there is nothing
// to align to.
func buildDesc(name string, specs []fieldSpec) *reflection.StructDescription {
	fields := make([]reflection.Field, 0, len(specs))
	var offset uintptr
	for _, s := range specs {
		fields = append(fields, reflection.Field{
			Name:      s.name,
			Offset:    offset,
			Size:      s.size,
			Alignment: 1,
			Archetype: s.archetype,
		})
		offset += s.size
	}
	return &reflection.StructDescription{Name: name, Size: offset, Alignment: 1, Fields: fields}
}

func entryKeyOf(typeName, name string) string {
	return typeName + "\x00" + name
}

// RegisterSchema defines the provider's own bookkeeping struct types
// (generic/typed entries, usage records, third-party blobs and their
// events) against reg. Resource payload types themselves are defined by
// callers (build-graph output types), not here.
func RegisterSchema(reg *reflection.Builder) {
	reg.Define(buildDesc(TypeGenericEntry, []fieldSpec{
		stringField("type", typeFieldLen),
		stringField("name", nameFieldLen),
		stringField("key", keyFieldLen),
		stringField("path", pathFieldLen),
		intField("usage_counter", 4),
		stringField("content_hash", hashFieldLen),
		intField("mod_time_unix_nano", 8),
	}))

	reg.Define(buildDesc(TypeTypedEntry, []fieldSpec{
		stringField("type", typeFieldLen),
		stringField("name", nameFieldLen),
		stringField("key", keyFieldLen),
		stringField("loaded_container_id", idFieldLen),
		stringField("loading_container_id", idFieldLen),
		intField("loading_pending", 1),
	}))

	reg.Define(buildDesc(TypeUsageRecord, []fieldSpec{
		stringField("type", typeFieldLen),
		stringField("name", nameFieldLen),
		stringField("key", keyFieldLen),
		intField("priority", 4),
	}))

	reg.Define(buildDesc(TypeThirdPartyBlob, []fieldSpec{
		stringField("id", idFieldLen),
		stringField("path", pathFieldLen),
		intField("available", 1),
		intField("pending", 1),
		stringField("content_hash", hashFieldLen),
	}))

	reg.Define(buildDesc(EventRegistered, []fieldSpec{
		stringField("type", typeFieldLen),
		stringField("name", nameFieldLen),
	}))
	reg.Define(buildDesc(EventUpdated, []fieldSpec{
		stringField("type", typeFieldLen),
		stringField("name", nameFieldLen),
	}))
	reg.Define(buildDesc(EventLoaded, []fieldSpec{
		stringField("type", typeFieldLen),
		stringField("name", nameFieldLen),
		stringField("container_id", idFieldLen),
	}))
	reg.Define(buildDesc(EventLoadFailed, []fieldSpec{
		stringField("type", typeFieldLen),
		stringField("name", nameFieldLen),
		stringField("reason", 128),
	}))
	reg.Define(buildDesc(EventBlobAvailable, []fieldSpec{
		stringField("id", idFieldLen),
		stringField("path", pathFieldLen),
	}))
	reg.Define(buildDesc(EventThirdPartyUpdated, []fieldSpec{
		stringField("path", pathFieldLen),
	}))

	reg.AddMeta(TypeGenericEntry, repository.OnInsertMeta{
		EventType: EventRegistered,
		CopyOuts: []repository.CopyOut{
			{SourceField: "type", TargetField: "type"},
			{SourceField: "name", TargetField: "name"},
		},
	})
}
