package rdfmt

import (
	"fmt"
	"io"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// Read parses RD text from r and populates a zero-initialised instance of
// the type named in its header, resolved against registry. It returns the
// type name alongside the instance bytes so callers can verify it against
// what they expected to find at this path.
func Read(r io.Reader, registry reflection.Registry) (typeName string, data []byte, err error) {
	typeName, body, err := Parse(r)
	if err != nil {
		return "", nil, err
	}
	desc, ok := registry.StructByName(typeName)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	data, err = Populate(desc, body)
	if err != nil {
		return "", nil, err
	}
	return typeName, data, nil
}

// Write is Read's left inverse up to formatting: it extracts data back
// into a Value tree via desc and formats it as RD text.
func Write(w io.Writer, typeName string, desc *reflection.StructDescription, data []byte) error {
	return Format(w, typeName, Extract(desc, data))
}
