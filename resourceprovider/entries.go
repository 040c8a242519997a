package resourceprovider

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// resourceKind classifies a scanned file the same way resourcebuild.Scan
// does: ".rd" and ".bin" are native resource files, anything else is
// third-party.
type resourceKind int

const (
	kindRD resourceKind = iota
	kindBin
	kindThirdParty
)

func classify(path string) resourceKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rd":
		return kindRD
	case ".bin":
		return kindBin
	default:
		return kindThirdParty
	}
}

// syncEntries walks the virtual directory once, registering a generic/typed
// entry pair for every native file not already known and a pending
// third-party blob for every other file. Already-known entries are left
// untouched here; content changes are handled by the hot-reload path.
func (p *Provider) syncEntries() error {
	genericDesc, _ := p.registry.StructByName(TypeGenericEntry)
	keyField := mustField(genericDesc, "key")

	return filepath.WalkDir(p.config.VirtualDirectory, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		kind := classify(path)
		if kind == kindThirdParty {
			return p.registerThirdPartyIfNew(path)
		}

		typeName, err := p.readNativeTypeHeader(path, kind)
		if err != nil {
			p.logger.Error("resource scan: unreadable type header", "path", path, "err", err)
			return nil
		}
		name := entryNameFor(path)
		key := entryKeyOf(typeName, name)

		existing, err := p.genericEntries.ValueQuery("key", []byte(padKey(key, int(keyField.Size))))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			return err
		}

		return p.registerNativeEntry(typeName, name, path, hash)
	})
}

// entryNameFor derives an entry name from a file's base name, stripping the
// extension, matching resourcebuild.Scan's convention.
func entryNameFor(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// padKey right-pads (or truncates) a composite key to the fixed width
// stored in the schema, so ValueQuery's exact-byte-match lookup finds it.
func padKey(key string, width int) string {
	if len(key) >= width {
		return key[:width]
	}
	return key + strings.Repeat("\x00", width-len(key))
}

func (p *Provider) readNativeTypeHeader(path string, kind resourceKind) (string, error) {
	if kind == kindRD {
		return readRDTypeHeader(path)
	}
	return readBinTypeHeader(path)
}

// readRDTypeHeader and readBinTypeHeader mirror resourcebuild.Scan's header
// parsing exactly, since the provider and the build graph must agree on the
// on-disk RD/binary header formats (spec.md §6).
func readRDTypeHeader(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", fmt.Errorf("resourceprovider: %q has no header line", path)
	}
	header := strings.TrimSpace(scanner.Text())
	const prefix = "//! type ="
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("resourceprovider: %q missing %q header", path, prefix)
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix)), nil
}

func readBinTypeHeader(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var length uint32
	if err := binary.Read(f, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (p *Provider) registerNativeEntry(typeName, name, path, contentHash string) error {
	genericDesc, _ := p.registry.StructByName(TypeGenericEntry)
	typedDesc, _ := p.registry.StructByName(TypeTypedEntry)

	pkg, err := p.genericEntries.BeginInsert()
	if err != nil {
		return err
	}
	data := pkg.Data()
	putString(data, mustField(genericDesc, "type"), typeName)
	putString(data, mustField(genericDesc, "name"), name)
	putString(data, mustField(genericDesc, "key"), padKey(entryKeyOf(typeName, name), int(mustField(genericDesc, "key").Size)))
	putString(data, mustField(genericDesc, "path"), path)
	putString(data, mustField(genericDesc, "content_hash"), contentHash)
	if _, err := pkg.Submit(); err != nil {
		return err
	}

	tpkg, err := p.typedEntries.BeginInsert()
	if err != nil {
		return err
	}
	tdata := tpkg.Data()
	putString(tdata, mustField(typedDesc, "type"), typeName)
	putString(tdata, mustField(typedDesc, "name"), name)
	putString(tdata, mustField(typedDesc, "key"), padKey(entryKeyOf(typeName, name), int(mustField(typedDesc, "key").Size)))
	_, err = tpkg.Submit()
	return err
}

func (p *Provider) registerThirdPartyIfNew(path string) error {
	blobDesc, _ := p.registry.StructByName(TypeThirdPartyBlob)
	pathField := mustField(blobDesc, "path")

	for _, id := range p.thirdPartyEntries.SequenceCursor() {
		acc, err := p.thirdPartyEntries.ReadAccess(id)
		if err != nil {
			return err
		}
		data := acc.Resolve()
		if data != nil && getString(data, pathField) == path {
			acc.Close()
			return nil
		}
		acc.Close()
	}

	pkg, err := p.thirdPartyEntries.BeginInsert()
	if err != nil {
		return err
	}
	data := pkg.Data()
	idField := mustField(blobDesc, "id")
	hashField := mustField(blobDesc, "content_hash")
	pendingField := mustField(blobDesc, "pending")
	putString(data, idField, uuid.NewString())
	putString(data, pathField, path)
	putBool(data, pendingField, true)
	hash, err := hashFile(path)
	if err == nil {
		putString(data, hashField, hash)
	}
	_, err = pkg.Submit()
	return err
}
