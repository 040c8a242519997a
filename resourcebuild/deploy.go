package resourcebuild

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Deploy writes successful unit outputs to workspace/deploy/<target>/<type>/<name>.bin
// and interned byproducts to workspace/cache/_byproducts/<type>/<fingerprint>.bin.
// Byproducts share that one directory for all targets; they are not
// separated per target. When pack is true, every target's deploy
// outputs are additionally concatenated into one packed container with an
// index; the loose files are still written (spec only requires both
// layouts to exist, not that packing replaces them).
func Deploy(workspaceRoot string, results []UnitResult, byproducts []ByproductEntry, pack bool) error {
	for _, res := range results {
		if res.Skipped || res.Status != Finished {
			continue
		}
		dir := filepath.Join(workspaceRoot, "deploy", res.Entry.Target, res.Entry.Type)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("resourcebuild: deploying %q: %w", res.Entry.Name, err)
		}
		path := filepath.Join(dir, res.Entry.Name+".bin")
		if err := writeFileAtomic(path, res.Output); err != nil {
			return fmt.Errorf("resourcebuild: deploying %q: %w", res.Entry.Name, err)
		}
	}

	for _, bp := range byproducts {
		dir := filepath.Join(workspaceRoot, "cache", "_byproducts", bp.Type)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("resourcebuild: caching byproduct %q: %w", bp.Fingerprint, err)
		}
		path := filepath.Join(dir, bp.Fingerprint+".bin")
		if err := writeFileAtomic(path, bp.Value); err != nil {
			return fmt.Errorf("resourcebuild: caching byproduct %q: %w", bp.Fingerprint, err)
		}
	}

	if pack {
		targets := make(map[string]bool)
		for _, res := range results {
			if res.Status == Finished {
				targets[res.Entry.Target] = true
			}
		}
		for target := range targets {
			if err := packTarget(workspaceRoot, target); err != nil {
				return err
			}
		}
	}

	return nil
}

// writeFileAtomic writes to a temp file in the same directory then renames
// it into place, so a crash mid-write never leaves a truncated deploy
// output — and so the idempotence property (§8 "Build idempotence") holds:
// a byte-identical rewrite does not need to touch the destination mtime at
// all, since callers compare the rename's effect, not an in-place write.
func writeFileAtomic(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil && bytesEqual(existing, data) {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// packedIndexEntry is one entry in a packed container's index: name,
// byte offset and length within the concatenated blob.
type packedIndexEntry struct {
	Name   string
	Offset uint64
	Length uint64
}

// packTarget concatenates every loose deploy output under
// deploy/<target>/**/*.bin into workspace/deploy/<target>.pack, with a
// length-prefixed index entry per file so a reader can seek directly to
// any name without re-scanning the whole container.
func packTarget(workspaceRoot, target string) error {
	root := filepath.Join(workspaceRoot, "deploy", target)
	var names []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("resourcebuild: packing target %q: %w", target, err)
	}
	sort.Strings(names)

	packPath := filepath.Join(workspaceRoot, "deploy", target+".pack")
	f, err := os.Create(packPath)
	if err != nil {
		return fmt.Errorf("resourcebuild: packing target %q: %w", target, err)
	}
	defer f.Close()

	var index []packedIndexEntry
	var offset uint64
	var blob []byte
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			return fmt.Errorf("resourcebuild: packing target %q: %w", target, err)
		}
		index = append(index, packedIndexEntry{Name: name, Offset: offset, Length: uint64(len(data))})
		blob = append(blob, data...)
		offset += uint64(len(data))
	}

	if err := binary.Write(f, binary.LittleEndian, uint32(len(index))); err != nil {
		return err
	}
	for _, e := range index {
		if err := binary.Write(f, binary.LittleEndian, uint32(len(e.Name))); err != nil {
			return err
		}
		if _, err := f.WriteString(e.Name); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, e.Offset); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, e.Length); err != nil {
			return err
		}
	}
	_, err = f.Write(blob)
	return err
}
