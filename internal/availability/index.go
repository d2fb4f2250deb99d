// Package availability answers "is resource R free in window W?" for teachers, rooms and
// sections across every timetable of a generation run.
package availability

import (
	"sort"
	"strconv"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

type cellKey struct {
	kind   models.ResourceKind
	id     string
	day    models.Day
	bucket int
}

// Index maps (resource, day, 30-minute bucket) to the occupying slot.
type Index struct {
	cells map[cellKey]models.SlotRef
}

// New returns an empty index.
func New() *Index {
	return &Index{cells: make(map[cellKey]models.SlotRef)}
}

// Clone returns an independent copy; trials mutate clones and never the base.
func (x *Index) Clone() *Index {
	out := &Index{cells: make(map[cellKey]models.SlotRef, len(x.cells))}
	for k, v := range x.cells {
		out.cells[k] = v
	}
	return out
}

// Len returns the number of occupied cells.
func (x *Index) Len() int {
	return len(x.cells)
}

// IsFree reports whether the resource has no occupant overlapping w.
func (x *Index) IsFree(kind models.ResourceKind, id string, w models.TimeWindow) bool {
	if id == "" {
		return true
	}
	for _, b := range w.Buckets() {
		if _, ok := x.cells[cellKey{kind: kind, id: id, day: w.Day, bucket: b}]; ok {
			return false
		}
	}
	return true
}

// IsFreeExcept is IsFree ignoring occupants that match skip.
func (x *Index) IsFreeExcept(kind models.ResourceKind, id string, w models.TimeWindow, skip func(models.SlotRef) bool) bool {
	for _, occ := range x.Occupants(kind, id, w) {
		if skip == nil || !skip(occ) {
			return false
		}
	}
	return true
}

// Occupants returns the distinct occupants of the resource overlapping w.
func (x *Index) Occupants(kind models.ResourceKind, id string, w models.TimeWindow) []models.SlotRef {
	if id == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []models.SlotRef
	for _, b := range w.Buckets() {
		occ, ok := x.cells[cellKey{kind: kind, id: id, day: w.Day, bucket: b}]
		if !ok {
			continue
		}
		key := occ.TimetableID + "/" + occ.SlotID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, occ)
	}
	return out
}

// Reserve claims every bucket of w for the resource. When any bucket is already held by a
// different occupant nothing is written and the first such occupant is returned.
func (x *Index) Reserve(kind models.ResourceKind, id string, w models.TimeWindow, occ models.SlotRef) (models.SlotRef, bool) {
	if id == "" {
		return models.SlotRef{}, true
	}
	buckets := w.Buckets()
	for _, b := range buckets {
		existing, ok := x.cells[cellKey{kind: kind, id: id, day: w.Day, bucket: b}]
		if ok && !sameOccupant(existing, occ) {
			return existing, false
		}
	}
	for _, b := range buckets {
		x.cells[cellKey{kind: kind, id: id, day: w.Day, bucket: b}] = occ
	}
	return models.SlotRef{}, true
}

// Release frees the buckets of w held by the given slot.
func (x *Index) Release(kind models.ResourceKind, id string, w models.TimeWindow, slotID string) {
	if id == "" {
		return
	}
	for _, b := range w.Buckets() {
		key := cellKey{kind: kind, id: id, day: w.Day, bucket: b}
		if occ, ok := x.cells[key]; ok && occ.SlotID == slotID {
			delete(x.cells, key)
		}
	}
}

func sameOccupant(a, b models.SlotRef) bool {
	return a.TimetableID == b.TimetableID && a.SlotID == b.SlotID
}

// Build derives an index from scratch over the given timetables, in input order.
// Every double booking met along the way is returned; the first occupant keeps the cell.
func Build(timetables []*models.Timetable) (*Index, []models.ResourceConflict) {
	x := New()
	var conflicts []models.ResourceConflict
	claim := func(kind models.ResourceKind, id string, ref models.SlotRef) {
		if existing, ok := x.Reserve(kind, id, ref.Window, ref); !ok {
			conflicts = append(conflicts, models.ResourceConflict{Resource: kind, ResourceID: id, Existing: existing, Incoming: ref})
		}
	}
	for _, tt := range timetables {
		if tt == nil {
			continue
		}
		for _, slot := range tt.TheorySlots {
			ref := TheoryRef(tt, slot)
			claim(models.ResourceSection, tt.SectionID, ref)
			claim(models.ResourceTeacher, models.StringValue(slot.TeacherID), ref)
			claim(models.ResourceRoom, models.StringValue(slot.ClassroomID), ref)
		}
		for _, slot := range tt.LabSlots {
			ref := LabRef(tt, slot, 0)
			claim(models.ResourceSection, tt.SectionID, ref)
			for _, batch := range slot.Batches {
				bref := LabRef(tt, slot, batch.BatchNumber)
				for _, teacherID := range batch.Teachers() {
					claim(models.ResourceTeacher, teacherID, bref)
				}
				claim(models.ResourceRoom, batch.LabRoomID, bref)
			}
		}
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Resource != conflicts[j].Resource {
			return conflicts[i].Resource < conflicts[j].Resource
		}
		return conflicts[i].ResourceID < conflicts[j].ResourceID
	})
	return x, conflicts
}

// TheoryRef describes a theory slot as an index occupant.
func TheoryRef(tt *models.Timetable, slot models.TheorySlot) models.SlotRef {
	kind := models.SlotTheory
	if slot.IsFixed {
		kind = models.SlotFixed
	}
	return models.SlotRef{
		TimetableID: tt.ID,
		SectionID:   tt.SectionID,
		SlotID:      slot.ID,
		Kind:        kind,
		Label:       slot.SubjectID,
		Window:      slot.Window,
	}
}

// LabRef describes a lab slot (or one batch of it when batch > 0) as an index occupant.
// Each batch gets its own occupant id, so one teacher in two batches of a window collides.
func LabRef(tt *models.Timetable, slot models.LabSlot, batch int) models.SlotRef {
	ref := models.SlotRef{
		TimetableID: tt.ID,
		SectionID:   tt.SectionID,
		SlotID:      slot.ID,
		Kind:        models.SlotLab,
		Window:      slot.Window,
		BatchNumber: batch,
	}
	if batch > 0 {
		ref.SlotID = BatchSlotID(slot.ID, batch)
		for _, b := range slot.Batches {
			if b.BatchNumber == batch {
				ref.Label = b.LabID
			}
		}
	}
	return ref
}

// BatchSlotID is the occupant id of one batch inside a lab slot.
func BatchSlotID(slotID string, batch int) string {
	return slotID + "#" + strconv.Itoa(batch)
}
