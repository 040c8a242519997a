package reflection

import "fmt"

// PatchChunk is one contiguous byte-range override within a Patch.
type PatchChunk struct {
	Offset uintptr
	Bytes  []byte
}

// Patch is a typed value describing partial overrides of a struct as an
// ordered list of byte chunks, used by world configuration and by the
// resource build graph's platform configuration layering.
type Patch struct {
	Target *StructDescription
	Chunks []PatchChunk
}

// NewPatch constructs an empty patch bound to the target struct description.
func NewPatch(target *StructDescription) *Patch {
	return &Patch{Target: target}
}

// Set appends (or replaces, if the offset already has a chunk) an override.
func (p *Patch) Set(offset uintptr, bytes []byte) {
	for i, c := range p.Chunks {
		if c.Offset == offset {
			p.Chunks[i].Bytes = bytes
			return
		}
	}
	p.Chunks = append(p.Chunks, PatchChunk{Offset: offset, Bytes: bytes})
}

// ApplyToZeroed returns a new zero-initialised instance of Target with every
// chunk applied over it, in order.
func (p *Patch) ApplyToZeroed() ([]byte, error) {
	if p.Target == nil {
		return nil, fmt.Errorf("reflection: patch has no target struct description")
	}
	buf := p.Target.NewZeroed()
	if err := p.ApplyTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ApplyTo applies every chunk over an existing buffer in place.
func (p *Patch) ApplyTo(buf []byte) error {
	for _, c := range p.Chunks {
		end := int(c.Offset) + len(c.Bytes)
		if end > len(buf) {
			return fmt.Errorf("reflection: patch chunk at offset %d overruns %d-byte target %q", c.Offset, len(buf), p.Target.Name)
		}
		copy(buf[c.Offset:end], c.Bytes)
	}
	return nil
}

// Merge layers another patch's chunks on top of this one (later chunks at
// the same offset win), as used by platform-configuration layer merging.
func (p *Patch) Merge(other *Patch) {
	if other == nil {
		return
	}
	for _, c := range other.Chunks {
		p.Set(c.Offset, c.Bytes)
	}
}

// MergeLayers merges an ordered list of patches, later layers overriding
// earlier ones at overlapping offsets, the layering rule used for platform
// configuration (spec resourcebuild §4.4 "Platform configuration").
func MergeLayers(target *StructDescription, layers []*Patch) *Patch {
	merged := NewPatch(target)
	for _, layer := range layers {
		merged.Merge(layer)
	}
	return merged
}
