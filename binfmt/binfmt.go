// Package binfmt implements the binary serialized format: a
// (type_name, intern-table marker) header followed by a length-prefixed
// chunk per field, mirroring the struct description's field layout. The
// reader is streamable — it decodes one field chunk per Step call and
// reports InProgress until every field has been consumed.
package binfmt

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// Status is the result of one Reader.Step call.
type Status int

const (
	InProgress Status = iota
	Finished
)

// Write serialises data (an instance of desc) to w in one call. The writer
// itself does not need to be streamable per spec — only the reader does.
func Write(w io.Writer, typeName string, desc *reflection.StructDescription, data []byte) error {
	if err := writeHeader(w, typeName); err != nil {
		return err
	}
	for _, field := range desc.Fields {
		if int(field.Offset+field.Size) > len(data) {
			return fmt.Errorf("binfmt: field %q overruns %d-byte instance", field.Name, len(data))
		}
		if err := writeChunk(w, field.Name, data[field.Offset:field.Offset+field.Size]); err != nil {
			return err
		}
	}
	return nil
}

func writeHeader(w io.Writer, typeName string) error {
	if err := writeString(w, typeName); err != nil {
		return err
	}
	// Optional interned-string-registry id: always absent (0) — field
	// string values are carried inline rather than through an intern
	// table in this implementation.
	return binary.Write(w, binary.LittleEndian, uint32(0))
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeChunk(w io.Writer, fieldName string, payload []byte) error {
	if err := writeString(w, fieldName); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Reader incrementally decodes a binary stream for an expected type,
// resolved from registry, into a zero-initialised instance buffer.
type Reader struct {
	r            io.Reader
	desc         *reflection.StructDescription
	expectedType string
	buf          []byte
	headerDone   bool
	remaining    int
}

// NewReader reads nothing yet; the header is consumed on the first Step
// call so construction cannot fail on I/O, only on registry lookup.
func NewReader(r io.Reader, registry reflection.Registry, expectedType string) (*Reader, error) {
	desc, ok := registry.StructByName(expectedType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, expectedType)
	}
	return &Reader{r: r, desc: desc, expectedType: expectedType, buf: desc.NewZeroed()}, nil
}

// Step decodes the header (on the first call) or one field chunk,
// returning Finished once every field in the struct description has been
// consumed. Bytes() is only valid to read once Step returns Finished.
func (rd *Reader) Step() (Status, error) {
	if !rd.headerDone {
		typeName, err := readString(rd.r)
		if err != nil {
			return InProgress, err
		}
		if typeName != rd.expectedType {
			return InProgress, fmt.Errorf("%w: stream has %q, expected %q", ErrTypeMismatch, typeName, rd.expectedType)
		}
		var internMarker uint32
		if err := binary.Read(rd.r, binary.LittleEndian, &internMarker); err != nil {
			return InProgress, fmt.Errorf("%w: reading header marker: %v", ErrTruncated, err)
		}
		rd.headerDone = true
		rd.remaining = len(rd.desc.Fields)
		if rd.remaining == 0 {
			return Finished, nil
		}
		return InProgress, nil
	}

	fieldName, err := readString(rd.r)
	if err != nil {
		return InProgress, err
	}
	var payloadLen uint32
	if err := binary.Read(rd.r, binary.LittleEndian, &payloadLen); err != nil {
		return InProgress, fmt.Errorf("%w: reading chunk length: %v", ErrTruncated, err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		return InProgress, fmt.Errorf("%w: reading chunk payload: %v", ErrTruncated, err)
	}

	field, ok := rd.desc.FieldByName(fieldName)
	if !ok {
		// Field dropped by migration since this data was written: skip it.
		rd.remaining--
		if rd.remaining <= 0 {
			return Finished, nil
		}
		return InProgress, nil
	}
	n := copy(rd.buf[field.Offset:field.Offset+field.Size], payload)
	for i := field.Offset + uintptr(n); i < field.Offset+field.Size; i++ {
		rd.buf[i] = 0
	}

	rd.remaining--
	if rd.remaining <= 0 {
		return Finished, nil
	}
	return InProgress, nil
}

// Bytes returns the decoded instance. Valid once Step has reported Finished.
func (rd *Reader) Bytes() []byte { return rd.buf }

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", fmt.Errorf("%w: reading string length: %v", ErrTruncated, err)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: reading string bytes: %v", ErrTruncated, err)
	}
	return string(buf), nil
}

// Read is a convenience wrapper around Reader that runs Step to
// completion and returns the decoded instance bytes.
func Read(r io.Reader, registry reflection.Registry, expectedType string) ([]byte, error) {
	reader, err := NewReader(r, registry, expectedType)
	if err != nil {
		return nil, err
	}
	for {
		status, err := reader.Step()
		if err != nil {
			return nil, err
		}
		if status == Finished {
			return reader.Bytes(), nil
		}
	}
}
