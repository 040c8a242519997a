package resourceprovider

import "os"

// blobTable holds third-party blob byte payloads, keyed by blob id, mirroring
// containerTable but with its own id space per spec.md §3 ("third-party
// blob: distinct id space").
type blobTable struct {
	containerTable
}

func newBlobTable() *blobTable {
	return &blobTable{containerTable: *newContainerTable()}
}

// loadPendingThirdPartyBlobs reads bytes for every blob still marked
// pending, flips it to available and fires a "blob available" event, per
// spec.md §4.5 "Third-party blobs" lifecycle.
func (p *Provider) loadPendingThirdPartyBlobs() error {
	desc, _ := p.registry.StructByName(TypeThirdPartyBlob)
	pendingField := mustField(desc, "pending")
	availableField := mustField(desc, "available")
	idField := mustField(desc, "id")
	pathField := mustField(desc, "path")

	for _, id := range p.thirdPartyEntries.SequenceCursor() {
		acc, err := p.thirdPartyEntries.ReadAccess(id)
		if err != nil {
			return err
		}
		data := acc.Resolve()
		if data == nil || !getBool(data, pendingField) {
			acc.Close()
			continue
		}
		blobID := getString(data, idField)
		path := getString(data, pathField)
		acc.Close()

		raw, err := os.ReadFile(path)
		if err != nil {
			p.logger.Error("third-party blob load failed", "path", path, "err", err)
			continue
		}
		p.blobs.createWithID(blobID, TypeThirdPartyBlob, raw)

		wacc, err := p.thirdPartyEntries.UpdateAccess(id)
		if err != nil {
			return err
		}
		if wdata := wacc.Resolve(); wdata != nil {
			putBool(wdata, pendingField, false)
			putBool(wdata, availableField, true)
		}
		if err := wacc.Close(); err != nil {
			return err
		}
		p.emitBlobAvailable(blobID, path)
	}
	return nil
}

// reloadThirdPartyBlob fires a global "third-party-updated" event on
// content change; per spec.md §4.5, hot reload never mutates an existing
// blob — consumers create new blobs themselves in response.
func (p *Provider) reloadThirdPartyBlob(path string) error {
	desc, _ := p.registry.StructByName(TypeThirdPartyBlob)
	pathField := mustField(desc, "path")
	hashField := mustField(desc, "content_hash")

	for _, id := range p.thirdPartyEntries.SequenceCursor() {
		acc, err := p.thirdPartyEntries.ReadAccess(id)
		if err != nil {
			return err
		}
		data := acc.Resolve()
		if data == nil || getString(data, pathField) != path {
			acc.Close()
			continue
		}
		oldHash := getString(data, hashField)
		acc.Close()

		newHash, err := hashFile(path)
		if err != nil {
			return err
		}
		if newHash == oldHash {
			return nil
		}

		wacc, err := p.thirdPartyEntries.UpdateAccess(id)
		if err != nil {
			return err
		}
		if wdata := wacc.Resolve(); wdata != nil {
			putString(wdata, hashField, newHash)
		}
		if err := wacc.Close(); err != nil {
			return err
		}
		p.emitThirdPartyUpdated(path)
		return nil
	}
	return nil
}

func (p *Provider) emitBlobAvailable(id, path string) {
	desc, _ := p.registry.StructByName(EventBlobAvailable)
	evStorage, err := p.repo.OpenEvent(EventBlobAvailable)
	if err != nil {
		return
	}
	pkg, err := evStorage.BeginInsert()
	if err != nil || pkg == nil {
		return
	}
	data := pkg.Data()
	putString(data, mustField(desc, "id"), id)
	putString(data, mustField(desc, "path"), path)
	pkg.Submit()
}

func (p *Provider) emitThirdPartyUpdated(path string) {
	desc, _ := p.registry.StructByName(EventThirdPartyUpdated)
	evStorage, err := p.repo.OpenEvent(EventThirdPartyUpdated)
	if err != nil {
		return
	}
	pkg, err := evStorage.BeginInsert()
	if err != nil || pkg == nil {
		return
	}
	data := pkg.Data()
	putString(data, mustField(desc, "path"), path)
	pkg.Submit()
}
