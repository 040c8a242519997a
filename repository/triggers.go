package repository

import "github.com/KonstantinTomashevich/Kan-sub009/reflection"

// CopyOut is a declarative (source field path, target field path) pair
// used to populate automatic event fields from a source record's pre- or
// post-change state.
type CopyOut struct {
	SourceField string
	TargetField string
}

// OnChangeMeta declares that an event of EventType should be inserted into
// the source struct's event storage whenever any of ObservedFields differs
// between write-access open and close. OldCopyOuts are populated from the
// pre-change snapshot, NewCopyOuts from the post-change record.
type OnChangeMeta struct {
	EventType      string
	ObservedFields []string
	OldCopyOuts    []CopyOut
	NewCopyOuts    []CopyOut
}

func (OnChangeMeta) Kind() string { return "on_change" }

// OnInsertMeta declares an event fired unconditionally after a new record
// commits; CopyOuts read from the post-insert record.
type OnInsertMeta struct {
	EventType string
	CopyOuts  []CopyOut
}

func (OnInsertMeta) Kind() string { return "on_insert" }

// OnDeleteMeta declares an event fired unconditionally before a record is
// removed; CopyOuts read from the pre-delete record.
type OnDeleteMeta struct {
	EventType string
	CopyOuts  []CopyOut
}

func (OnDeleteMeta) Kind() string { return "on_delete" }

// CascadeDeletionMeta declares that deleting a parent record enqueues
// deletion of every child record whose ChildKeyField equals the parent's
// ParentKeyField value.
type CascadeDeletionMeta struct {
	ChildType      string
	ParentKeyField string
	ChildKeyField  string
}

func (CascadeDeletionMeta) Kind() string { return "cascade_deletion" }

// applyCopyOuts copies bytes named by each CopyOut's SourceField (resolved
// against srcDesc) from src into the field named by TargetField (resolved
// against dstDesc) in dst.
func applyCopyOuts(srcDesc *reflection.StructDescription, src []byte, dstDesc *reflection.StructDescription, dst []byte, copyOuts []CopyOut) error {
	for _, co := range copyOuts {
		srcField, err := reflection.ResolveFieldPath(srcDesc, []string{co.SourceField})
		if err != nil {
			return err
		}
		dstField, err := reflection.ResolveFieldPath(dstDesc, []string{co.TargetField})
		if err != nil {
			return err
		}
		n := int(srcField.Size)
		if int(dstField.Size) < n {
			n = int(dstField.Size)
		}
		copy(dst[dstField.Offset:int(dstField.Offset)+n], src[srcField.Offset:int(srcField.Offset)+n])
	}
	return nil
}

// changeTrigger is the planning-time-resolved form of OnChangeMeta, bound
// to the storage's shared scenario.
type changeTrigger struct {
	meta          OnChangeMeta
	chunkIndices  []int // indices into the storage scenario this trigger watches
}

func resolveChangeTriggers(desc *reflection.StructDescription, sc *scenario) []changeTrigger {
	var triggers []changeTrigger
	for _, m := range desc.Meta("on_change") {
		meta, ok := m.(OnChangeMeta)
		if !ok {
			continue
		}
		var indices []int
		for _, f := range meta.ObservedFields {
			resolved, err := reflection.ResolveFieldPath(desc, []string{f})
			if err != nil {
				continue
			}
			if idx := sc.chunkIndexCovering(resolved.Offset); idx >= 0 {
				indices = append(indices, idx)
			}
		}
		triggers = append(triggers, changeTrigger{meta: meta, chunkIndices: indices})
	}
	return triggers
}

func (t changeTrigger) firedBy(changed []bool) bool {
	for _, idx := range t.chunkIndices {
		if idx < len(changed) && changed[idx] {
			return true
		}
	}
	return false
}
