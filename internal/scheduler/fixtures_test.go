package scheduler

import (
	"fmt"

	"github.com/noah-isme/ise-timetable-api/internal/models"
)

type inputBuilder struct {
	in Input
}

func newInputBuilder() *inputBuilder {
	return &inputBuilder{in: Input{AcademicYear: "2024-2025", SemesterType: models.SemesterOdd}}
}

func (b *inputBuilder) section(id string) *inputBuilder {
	b.in.Sections = append(b.in.Sections, models.Section{ID: id, Name: id, Semester: 5, SemesterType: models.SemesterOdd})
	return b
}

func (b *inputBuilder) subject(id string, category models.SubjectCategory, hours int) *inputBuilder {
	b.in.Subjects = append(b.in.Subjects, models.Subject{ID: id, Code: id, Name: id, Category: category, HoursPerWeek: hours, MaxHoursPerDay: 1})
	return b
}

func (b *inputBuilder) lab(id, room string) *inputBuilder {
	b.in.Labs = append(b.in.Labs, models.Lab{ID: id, Code: id, Name: id})
	b.in.LabRooms = append(b.in.LabRooms, models.LabRoom{ID: room, Name: room})
	return b
}

func (b *inputBuilder) teacher(id string, position models.Position, labs ...string) *inputBuilder {
	b.in.Teachers = append(b.in.Teachers, models.Teacher{ID: id, Name: id, Shortform: id, Position: position, LabIDs: labs})
	return b
}

func (b *inputBuilder) classroom(id string) *inputBuilder {
	b.in.Classrooms = append(b.in.Classrooms, models.Classroom{ID: id, Name: id, Capacity: 60})
	return b
}

func (b *inputBuilder) theory(section, subject, teacher string) *inputBuilder {
	a := models.TheoryAssignment{SectionID: section, SubjectID: subject}
	if teacher != "" {
		a.TeacherID = models.StringPtr(teacher)
	}
	b.in.TheoryAssignments = append(b.in.TheoryAssignments, a)
	return b
}

// labAll gives every batch of the section the lab in the given room.
func (b *inputBuilder) labAll(section, lab, room string) *inputBuilder {
	for batch := 1; batch <= models.BatchesPerSection; batch++ {
		b.labBatch(section, lab, room, batch, "")
	}
	return b
}

func (b *inputBuilder) labBatch(section, lab, room string, batch int, teacher string) *inputBuilder {
	a := models.LabAssignment{SectionID: section, LabID: lab, BatchNumber: batch, LabRoomID: room}
	if teacher != "" {
		a.Teacher1ID = models.StringPtr(teacher)
	}
	b.in.LabAssignments = append(b.in.LabAssignments, a)
	return b
}

func (b *inputBuilder) fixed(section, subject, teacher string, w models.TimeWindow) *inputBuilder {
	decl := models.FixedSlotDeclaration{SectionID: section, SubjectID: subject, Day: w.Day, Start: w.Start, End: w.End}
	if teacher != "" {
		decl.TeacherID = models.StringPtr(teacher)
	}
	b.in.FixedSlots = append(b.in.FixedSlots, decl)
	return b
}

func (b *inputBuilder) build() Input {
	return b.in
}

// singleSectionInput has three theory subjects and one lab run by all three batches in
// three separate rooms.
func singleSectionInput() Input {
	b := newInputBuilder().
		section("ise-5a").
		subject("dbms", models.SubjectRegular, 4).
		subject("cn", models.SubjectRegular, 3).
		subject("se", models.SubjectRegular, 3).
		classroom("room-101").
		theory("ise-5a", "dbms", "t-dbms").
		theory("ise-5a", "cn", "t-cn").
		theory("ise-5a", "se", "t-se").
		teacher("t-dbms", models.PositionAssociateProfessor).
		teacher("t-cn", models.PositionAssistantProfessor).
		teacher("t-se", models.PositionAssistantProfessor)
	b.in.Labs = append(b.in.Labs, models.Lab{ID: "dbms-lab", Code: "DBMSL", Name: "DBMS Lab"})
	for batch := 1; batch <= 3; batch++ {
		room := fmt.Sprintf("lab-room-%d", batch)
		b.in.LabRooms = append(b.in.LabRooms, models.LabRoom{ID: room, Name: room})
		b.labBatch("ise-5a", "dbms-lab", room, batch, "")
	}
	for i := 1; i <= 6; i++ {
		b.teacher(fmt.Sprintf("asst-%d", i), models.PositionAssistantProfessor, "dbms-lab")
	}
	return b.build()
}

// rotationInput gives each section three labs so every batch rotates through all of them.
func rotationInput(sections ...string) Input {
	b := newInputBuilder().
		lab("lab-a", "room-a").
		lab("lab-b", "room-b").
		lab("lab-c", "room-c").
		subject("ml", models.SubjectRegular, 3).
		subject("proj", models.SubjectProject, 2).
		classroom("room-101").
		classroom("room-102").
		classroom("room-103")
	for i := 1; i <= 10; i++ {
		b.teacher(fmt.Sprintf("asst-%d", i), models.PositionAssistantProfessor, "lab-a", "lab-b", "lab-c")
	}
	for _, section := range sections {
		b.section(section)
		for _, lab := range []struct{ id, room string }{{"lab-a", "room-a"}, {"lab-b", "room-b"}, {"lab-c", "room-c"}} {
			b.labAll(section, lab.id, lab.room)
		}
		b.theory(section, "ml", "t-ml-"+section)
		b.teacher("t-ml-"+section, models.PositionAssistantProfessor)
		b.theory(section, "proj", "")
	}
	return b.build()
}

func testConfig(seed int64) Config {
	cfg := DefaultConfig()
	cfg.Seed = seed
	cfg.LabTrials = 40
	return cfg
}
