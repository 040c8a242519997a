package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
	"github.com/KonstantinTomashevich/Kan-sub009/resourceprovider"
)

// schemaManifest is the on-disk YAML description of the resource struct
// types a project's build graph and provider need resolved against the
// reflection registry; spec.md reserves the RD format for resource assets
// themselves, so the build tool's own schema declaration is YAML, matching
// the corpus's config-loading convention.
type schemaManifest struct {
	Structs []structManifest `yaml:"structs"`
}

type structManifest struct {
	Name      string          `yaml:"name"`
	Alignment uint            `yaml:"alignment"`
	Fields    []fieldManifest `yaml:"fields"`
}

type fieldManifest struct {
	Name      string `yaml:"name"`
	Offset    uint   `yaml:"offset"`
	Size      uint   `yaml:"size"`
	Alignment uint   `yaml:"alignment"`
	Archetype string `yaml:"archetype"`
}

func archetypeByName(name string) (reflection.Archetype, error) {
	switch name {
	case "integer":
		return reflection.ArchetypeInteger, nil
	case "float":
		return reflection.ArchetypeFloat, nil
	case "pointer":
		return reflection.ArchetypePointer, nil
	case "string":
		return reflection.ArchetypeString, nil
	case "struct":
		return reflection.ArchetypeStruct, nil
	case "array":
		return reflection.ArchetypeArray, nil
	case "patch":
		return reflection.ArchetypePatch, nil
	case "enum":
		return reflection.ArchetypeEnum, nil
	default:
		return 0, fmt.Errorf("kanbuild: unknown archetype %q", name)
	}
}

// loadRegistry reads a schema manifest from path and defines every
// resource struct type against a fresh builder, then layers the
// resource provider's own bookkeeping types on top so the same registry
// serves both the build graph and a deployed provider.
func loadRegistry(path string) (*reflection.Builder, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kanbuild: reading schema %q: %w", path, err)
	}
	var manifest schemaManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("kanbuild: parsing schema %q: %w", path, err)
	}

	reg := reflection.NewBuilder()
	for _, s := range manifest.Structs {
		fields := make([]reflection.Field, 0, len(s.Fields))
		for _, f := range s.Fields {
			archetype, err := archetypeByName(f.Archetype)
			if err != nil {
				return nil, fmt.Errorf("kanbuild: struct %q: %w", s.Name, err)
			}
			fields = append(fields, reflection.Field{
				Name:      f.Name,
				Offset:    uintptr(f.Offset),
				Size:      uintptr(f.Size),
				Alignment: uintptr(f.Alignment),
				Archetype: archetype,
			})
		}
		size := uintptr(0)
		if n := len(s.Fields); n > 0 {
			last := s.Fields[n-1]
			size = uintptr(last.Offset + last.Size)
		}
		reg.Define(&reflection.StructDescription{
			Name:      s.Name,
			Size:      size,
			Alignment: uintptr(s.Alignment),
			Fields:    fields,
		})
	}

	resourceprovider.RegisterSchema(reg)
	return reg, nil
}
