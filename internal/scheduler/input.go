package scheduler

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// Input is the master data snapshot a run works on. It is never mutated.
type Input struct {
	RunID             string                        `mapstructure:"runId"`
	AcademicYear      string                        `mapstructure:"academicYear"`
	SemesterType      models.SemesterType           `mapstructure:"semesterType"`
	Sections          []models.Section              `mapstructure:"sections"`
	Subjects          []models.Subject              `mapstructure:"subjects"`
	Labs              []models.Lab                  `mapstructure:"labs"`
	Teachers          []models.Teacher              `mapstructure:"teachers"`
	Classrooms        []models.Classroom            `mapstructure:"classrooms"`
	LabRooms          []models.LabRoom              `mapstructure:"labRooms"`
	TheoryAssignments []models.TheoryAssignment     `mapstructure:"theoryAssignments"`
	LabAssignments    []models.LabAssignment        `mapstructure:"labAssignments"`
	FixedSlots        []models.FixedSlotDeclaration `mapstructure:"fixedSlots"`
}

// catalog indexes master data by id.
type catalog struct {
	subjects map[string]models.Subject
	labs     map[string]models.Lab
	teachers map[string]models.Teacher
	// teacherIDs is the sorted teacher id list; candidate scans walk it for determinism.
	teacherIDs []string
	classrooms []models.Classroom
}

func newCatalog(in Input) *catalog {
	c := &catalog{
		subjects: lo.KeyBy(in.Subjects, func(s models.Subject) string { return s.ID }),
		labs:     lo.KeyBy(in.Labs, func(l models.Lab) string { return l.ID }),
		teachers: lo.KeyBy(in.Teachers, func(t models.Teacher) string { return t.ID }),
	}
	c.teacherIDs = lo.Keys(c.teachers)
	sort.Strings(c.teacherIDs)
	c.classrooms = append([]models.Classroom(nil), in.Classrooms...)
	sort.SliceStable(c.classrooms, func(i, j int) bool { return c.classrooms[i].ID < c.classrooms[j].ID })
	return c
}

func (c *catalog) teacherPosition(id string) models.Position {
	if t, ok := c.teachers[id]; ok {
		return t.Position
	}
	return ""
}

// normalizeSections fills default batch labels and rejects sections that break the
// three-batch rule.
func normalizeSections(sections []models.Section) ([]models.Section, error) {
	out := make([]models.Section, 0, len(sections))
	seen := make(map[string]bool, len(sections))
	for _, s := range sections {
		if s.ID == "" {
			return nil, fmt.Errorf("section %q has no id", s.Name)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("section %s listed twice", s.ID)
		}
		seen[s.ID] = true
		if len(s.Batches) == 0 {
			s.Batches = make([]string, models.BatchesPerSection)
			for i := range s.Batches {
				s.Batches[i] = fmt.Sprintf("B%d", i+1)
			}
		}
		if len(s.Batches) != models.BatchesPerSection {
			return nil, fmt.Errorf("section %s has %d batches, want %d", s.ID, len(s.Batches), models.BatchesPerSection)
		}
		out = append(out, s)
	}
	return out, nil
}
