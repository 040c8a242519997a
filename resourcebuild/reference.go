package resourcebuild

import (
	"fmt"
	"os"

	"github.com/KonstantinTomashevich/Kan-sub009/binfmt"
	"github.com/KonstantinTomashevich/Kan-sub009/rdfmt"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// Reference is one edge recorded by reference resolution: a source
// entry's field pointing at another resource by (type, name).
type Reference struct {
	From           Entry
	FieldPath      string
	ReferencedType string
	ReferencedName string
}

// LoadEntry reads a native entry's content into a zero-initialised
// instance of its declared type.
func LoadEntry(e Entry, registry reflection.Registry) ([]byte, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch e.Kind {
	case EntryReadableData:
		_, data, err := rdfmt.Read(f, registry)
		return data, err
	case EntryBinarySerialized:
		return binfmt.Read(f, registry, e.Type)
	default:
		return nil, fmt.Errorf("resourcebuild: entry %q is third-party, has no typed content", e.Name)
	}
}

// ResolveReferences walks every native entry's reflection-annotated
// fields, following resource_reference_meta_t fields, and records edges.
// Unresolved references (a referenced name with no matching entry) are
// returned as diagnostics, not as a fatal error.
func ResolveReferences(entries []Entry, registry reflection.Registry) ([]Reference, []error) {
	var refs []Reference
	var diagnostics []error

	byTypeName := make(map[[2]string]Entry, len(entries))
	for _, e := range entries {
		if e.Kind != EntryThirdParty {
			byTypeName[[2]string{e.Type, e.Name}] = e
		}
	}

	for _, e := range entries {
		if e.Kind == EntryThirdParty {
			continue
		}
		desc, ok := registry.StructByName(e.Type)
		if !ok {
			diagnostics = append(diagnostics, fmt.Errorf("resourcebuild: entry %q: %w: %q", e.Name, ErrUnknownBuildRule, e.Type))
			continue
		}
		data, err := LoadEntry(e, registry)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Errorf("resourcebuild: loading %q: %w", e.Path, err))
			continue
		}
		walkReferenceFields(desc, data, e, "", &refs, &diagnostics, byTypeName)
	}

	return refs, diagnostics
}

func walkReferenceFields(desc *reflection.StructDescription, data []byte, from Entry, pathPrefix string, refs *[]Reference, diagnostics *[]error, byTypeName map[[2]string]Entry) {
	for _, field := range desc.Fields {
		path := field.Name
		if pathPrefix != "" {
			path = pathPrefix + "." + field.Name
		}
		region := data[field.Offset : field.Offset+field.Size]

		for _, m := range desc.FieldMeta(field.Name, "resource_reference") {
			refMeta, ok := m.(ResourceReferenceMeta)
			if !ok {
				continue
			}
			name := trimTrailingZeros(region)
			ref := Reference{From: from, FieldPath: path, ReferencedType: refMeta.ReferencedType, ReferencedName: name}
			*refs = append(*refs, ref)
			if _, found := byTypeName[[2]string{refMeta.ReferencedType, name}]; !found {
				*diagnostics = append(*diagnostics, fmt.Errorf("resourcebuild: entry %q field %q: unresolved reference to %s %q", from.Name, path, refMeta.ReferencedType, name))
			}
		}

		if field.Archetype == reflection.ArchetypeStruct && field.ElementStruct != nil {
			walkReferenceFields(field.ElementStruct, region, from, path, refs, diagnostics, byTypeName)
		}
	}
}

func trimTrailingZeros(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}
