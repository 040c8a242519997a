package resourcebuild

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

// ByproductRegistry interns byproduct instances by content fingerprint so
// a single compile pass can fan out shared work (spec.md §4.4 phase 5,
// "shader source" byproducts shared across many materials). Each distinct
// instance is kept once; its bytes are written to the byproduct cache by
// Deploy and are not compiled through a build rule of their own.
type ByproductRegistry struct {
	registry reflection.Registry

	mu    sync.Mutex
	byType map[string]map[string]ByproductEntry // type -> fingerprint -> entry
	fresh  []ByproductEntry                     // newly interned, in registration order
}

// NewByproductRegistry constructs an empty registry bound to the
// reflection registry used to resolve byproduct_type_meta_t.
func NewByproductRegistry(registry reflection.Registry) *ByproductRegistry {
	return &ByproductRegistry{registry: registry, byType: make(map[string]map[string]ByproductEntry)}
}

// Register computes value's fingerprint, interns it if new, and returns
// the canonical interned name — the name callers use to address this
// instance's cache/deploy path.
func (b *ByproductRegistry) Register(byproductType string, value []byte) (string, error) {
	desc, ok := b.registry.StructByName(byproductType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownByproductType, byproductType)
	}
	fingerprint := fingerprintFor(desc, value)

	b.mu.Lock()
	defer b.mu.Unlock()

	table, ok := b.byType[byproductType]
	if !ok {
		table = make(map[string]ByproductEntry)
		b.byType[byproductType] = table
	}
	if existing, ok := table[fingerprint]; ok {
		return existing.Fingerprint, nil
	}

	entry := ByproductEntry{Type: byproductType, Fingerprint: fingerprint, Value: value}
	table[fingerprint] = entry
	b.fresh = append(b.fresh, entry)
	return fingerprint, nil
}

// DrainFresh returns and clears the set of byproducts interned since the
// last drain, so each is handed to Deploy exactly once.
func (b *ByproductRegistry) DrainFresh() []ByproductEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.fresh
	b.fresh = nil
	return out
}

func fingerprintFor(desc *reflection.StructDescription, value []byte) string {
	for _, m := range desc.Meta("byproduct_type") {
		meta, ok := m.(ByproductTypeMeta)
		if !ok || meta.Hash == nil {
			continue
		}
		return fmt.Sprintf("%016x", meta.Hash(value))
	}
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}
