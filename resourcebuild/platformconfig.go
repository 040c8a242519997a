package resourcebuild

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KonstantinTomashevich/Kan-sub009/rdfmt"
	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// platformLayerListDesc describes platform_configuration.rd's own shape:
// an ordered array of layer names. Callers needing a different layer-list
// layout can still materialise layers directly via MaterializePlatformConfiguration.
func platformLayerListDesc(maxLayers uint32) *reflection.StructDescription {
	entry := &reflection.StructDescription{
		Name: "platform_configuration_layer_ref", Size: 64,
		Fields: []reflection.Field{
			{Name: "layer", Offset: 0, Size: 64, Alignment: 1, Archetype: reflection.ArchetypeString},
		},
	}
	return &reflection.StructDescription{
		Name: "platform_configuration_layer_list", Size: uintptr(maxLayers) * 64,
		Fields: []reflection.Field{
			{
				Name: "layers", Offset: 0, Size: uintptr(maxLayers) * 64, Alignment: 1,
				Archetype: reflection.ArchetypeArray, ArrayLength: maxLayers, ElementStruct: entry,
			},
		},
	}
}

// LoadPlatformLayerNames reads platform_configuration.rd, returning the
// ordered list of layer names it declares.
func LoadPlatformLayerNames(platformConfigDir string, maxLayers uint32) ([]string, error) {
	path := filepath.Join(platformConfigDir, "platform_configuration.rd")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatformConfiguration, err)
	}
	defer f.Close()

	desc := platformLayerListDesc(maxLayers)
	_, body, err := rdfmt.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatformConfiguration, err)
	}
	data, err := rdfmt.Populate(desc, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatformConfiguration, err)
	}
	v := rdfmt.Extract(desc, data)
	arr, ok := v.Get("layers")
	if !ok {
		return nil, nil
	}
	var names []string
	for _, elem := range arr.Elements {
		name, ok := elem.Get("layer")
		if !ok || name.Scalar == "" {
			continue
		}
		names = append(names, name.Scalar)
	}
	return names, nil
}

// MaterializePlatformConfiguration reads each named layer file
// (<layer>.rd) in order, converts it to a patch of only its declared
// fields, and merges the layers over a zeroed instance of configType —
// later layers override earlier ones at overlapping fields (spec.md §4.4
// "Platform configuration"). It also returns one hash per layer file for
// the build cache's invalidation check (§4.4 phase 6).
func MaterializePlatformConfiguration(platformConfigDir string, layerNames []string, configType *reflection.StructDescription) ([]byte, []string, error) {
	var patches []*reflection.Patch
	var hashes []string

	for _, layer := range layerNames {
		path := filepath.Join(platformConfigDir, layer+".rd")
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading layer %q: %v", ErrPlatformConfiguration, layer, err)
		}
		sum := sha256.Sum256(raw)
		hashes = append(hashes, hex.EncodeToString(sum[:]))

		_, body, err := rdfmt.Parse(bytes.NewReader(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: parsing layer %q: %v", ErrPlatformConfiguration, layer, err)
		}
		patch, err := rdfmt.ToPatch(configType, body)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: layer %q: %v", ErrPlatformConfiguration, layer, err)
		}
		patches = append(patches, patch)
	}

	merged := reflection.MergeLayers(configType, patches)
	data, err := merged.ApplyToZeroed()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: merging layers: %v", ErrPlatformConfiguration, err)
	}
	return data, hashes, nil
}
