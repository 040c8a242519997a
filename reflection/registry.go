package reflection

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownType is returned when a struct name has no registered description.
	ErrUnknownType = errors.New("reflection: unknown type")
	// ErrUnknownField is returned when a field path segment does not exist.
	ErrUnknownField = errors.New("reflection: unknown field")
	// ErrNotDescendable is returned when a field path tries to descend into a
	// field that is not a struct (arrays included).
	ErrNotDescendable = errors.New("reflection: field is not descendable")
)

// Registry is the external collaborator the core consumes struct
// descriptions from. The core never mutates it.
type Registry interface {
	// StructByName looks up a struct description by interned type name.
	StructByName(name string) (*StructDescription, bool)
	// Invalidated returns a channel that is closed (and replaced) every
	// time the registry's contents change, signalling the repository to
	// migrate (see repository.Repository.Migrate).
	Invalidated() <-chan struct{}
}

// Builder is a convenience in-memory Registry implementation used by the
// core's own tests and by callers that want to assemble descriptions
// programmatically instead of from a C reflection registry.
type Builder struct {
	mu      sync.RWMutex
	structs map[string]*StructDescription
	invalid chan struct{}
}

// NewBuilder constructs an empty, mutable registry.
func NewBuilder() *Builder {
	return &Builder{
		structs: make(map[string]*StructDescription),
		invalid: make(chan struct{}),
	}
}

// Define registers (or replaces) a struct description and signals invalidation.
func (b *Builder) Define(desc *StructDescription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.structs[desc.Name] = desc
	close(b.invalid)
	b.invalid = make(chan struct{})
}

// AddMeta attaches a struct-level meta record.
func (b *Builder) AddMeta(typeName string, m Meta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.structs[typeName]; ok {
		d.meta = append(d.meta, m)
	}
}

// AddFieldMeta attaches a field-level meta record.
func (b *Builder) AddFieldMeta(typeName, field string, m Meta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.structs[typeName]
	if !ok {
		return
	}
	if d.fieldMeta == nil {
		d.fieldMeta = make(map[string][]Meta)
	}
	d.fieldMeta[field] = append(d.fieldMeta[field], m)
}

// SetInitializer installs the zero-value initialiser for a type.
func (b *Builder) SetInitializer(typeName string, fn func() []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.structs[typeName]; ok {
		d.initialize = fn
	}
}

func (b *Builder) StructByName(name string) (*StructDescription, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.structs[name]
	return d, ok
}

func (b *Builder) Invalidated() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.invalid
}

var _ Registry = (*Builder)(nil)
