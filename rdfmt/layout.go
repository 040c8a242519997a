package rdfmt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// Populate writes a parsed Value tree into a zero-initialised instance of
// desc, returning the populated bytes. Fields absent from the Value tree
// are left at their zero-initialised value, which is how round-tripping
// tolerates struct-layout migration adding new fields.
func Populate(desc *reflection.StructDescription, v *Value) ([]byte, error) {
	buf := desc.NewZeroed()
	if err := populateInto(desc, v, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func populateInto(desc *reflection.StructDescription, v *Value, buf []byte) error {
	if v == nil {
		return nil
	}
	for _, field := range desc.Fields {
		fv, ok := v.Get(field.Name)
		if !ok {
			continue
		}
		if err := populateField(field, fv, buf); err != nil {
			return fmt.Errorf("rdfmt: field %q: %w", field.Name, err)
		}
	}
	return nil
}

func populateField(field reflection.Field, fv *Value, buf []byte) error {
	region := buf[field.Offset : field.Offset+field.Size]

	switch field.Archetype {
	case reflection.ArchetypeStruct:
		if !fv.isBlock() || field.ElementStruct == nil {
			return ErrFieldMismatch
		}
		return populateInto(field.ElementStruct, fv, region)

	case reflection.ArchetypeArray:
		if !fv.isArray() {
			return ErrFieldMismatch
		}
		if field.ArrayLength == 0 {
			return nil
		}
		elemSize := field.Size / uintptr(field.ArrayLength)
		for i, elem := range fv.Elements {
			if uint32(i) >= field.ArrayLength {
				break
			}
			elemRegion := region[uintptr(i)*elemSize : (uintptr(i)+1)*elemSize]
			if field.ElementStruct != nil {
				if err := populateInto(field.ElementStruct, elem, elemRegion); err != nil {
					return err
				}
				continue
			}
			if err := writeScalar(reflection.ArchetypeInteger, elemRegion, elem.Scalar); err != nil {
				return err
			}
		}
		return nil

	case reflection.ArchetypeString:
		if !fv.isScalar() {
			return ErrFieldMismatch
		}
		n := copy(region, fv.Scalar)
		for i := n; i < len(region); i++ {
			region[i] = 0
		}
		return nil

	default:
		if !fv.isScalar() {
			return ErrFieldMismatch
		}
		return writeScalar(field.Archetype, region, fv.Scalar)
	}
}

func writeScalar(archetype reflection.Archetype, region []byte, text string) error {
	switch archetype {
	case reflection.ArchetypeFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("rdfmt: %w: %q is not a float", ErrMalformed, text)
		}
		switch len(region) {
		case 4:
			binary.LittleEndian.PutUint32(region, math.Float32bits(float32(f)))
		case 8:
			binary.LittleEndian.PutUint64(region, math.Float64bits(f))
		default:
			return fmt.Errorf("rdfmt: unsupported float field size %d", len(region))
		}
		return nil
	default: // integer, enum, pointer, patch — all stored as a little-endian integer tag
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return fmt.Errorf("rdfmt: %w: %q is not an integer", ErrMalformed, text)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(i))
		copy(region, buf[:len(region)])
		return nil
	}
}

// ToPatch converts a parsed Value tree into a reflection.Patch that
// overrides only the top-level fields the tree declares, leaving
// everything else untouched — used by platform-configuration layering,
// where each layer file names only the fields it wants to override.
func ToPatch(desc *reflection.StructDescription, v *Value) (*reflection.Patch, error) {
	full, err := Populate(desc, v)
	if err != nil {
		return nil, err
	}
	patch := reflection.NewPatch(desc)
	for _, field := range desc.Fields {
		if _, ok := v.Get(field.Name); !ok {
			continue
		}
		region := make([]byte, field.Size)
		copy(region, full[field.Offset:field.Offset+field.Size])
		patch.Set(field.Offset, region)
	}
	return patch, nil
}

// Extract is Populate's inverse: it reads an instance's bytes back into a
// Value tree using the same struct description.
func Extract(desc *reflection.StructDescription, buf []byte) *Value {
	out := newStructValue()
	for _, field := range desc.Fields {
		region := buf[field.Offset : field.Offset+field.Size]
		out.Set(field.Name, extractField(field, region))
	}
	return out
}

func extractField(field reflection.Field, region []byte) *Value {
	switch field.Archetype {
	case reflection.ArchetypeStruct:
		if field.ElementStruct == nil {
			return &Value{Scalar: ""}
		}
		return Extract(field.ElementStruct, region)

	case reflection.ArchetypeArray:
		v := &Value{Elements: []*Value{}}
		if field.ArrayLength == 0 {
			return v
		}
		elemSize := field.Size / uintptr(field.ArrayLength)
		for i := uint32(0); i < field.ArrayLength; i++ {
			elemRegion := region[uintptr(i)*elemSize : (uintptr(i)+1)*elemSize]
			if field.ElementStruct != nil {
				v.Elements = append(v.Elements, Extract(field.ElementStruct, elemRegion))
				continue
			}
			v.Elements = append(v.Elements, &Value{Scalar: readScalar(reflection.ArchetypeInteger, elemRegion)})
		}
		return v

	case reflection.ArchetypeString:
		n := len(region)
		for n > 0 && region[n-1] == 0 {
			n--
		}
		return &Value{Scalar: string(region[:n])}

	default:
		return &Value{Scalar: readScalar(field.Archetype, region)}
	}
}

func readScalar(archetype reflection.Archetype, region []byte) string {
	switch archetype {
	case reflection.ArchetypeFloat:
		switch len(region) {
		case 4:
			return strconv.FormatFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(region))), 'g', -1, 32)
		case 8:
			return strconv.FormatFloat(math.Float64frombits(binary.LittleEndian.Uint64(region)), 'g', -1, 64)
		default:
			return "0"
		}
	default:
		buf := make([]byte, 8)
		copy(buf, region)
		return strconv.FormatInt(int64(binary.LittleEndian.Uint64(buf)), 10)
	}
}
