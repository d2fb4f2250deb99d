package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ise-timetable-api/internal/availability"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

func TestPipelineRunSingleSection(t *testing.T) {
	pipeline := NewPipeline(testConfig(7), nil)

	res, err := pipeline.Run(context.Background(), singleSectionInput())
	require.NoError(t, err)
	require.Len(t, res.Timetables, 1)

	tt := res.Timetables[0]
	assert.Equal(t, "ise-5a", tt.SectionID)
	assert.Len(t, tt.TheorySlots, 10)
	require.Len(t, tt.LabSlots, 1)
	assert.Len(t, tt.LabSlots[0].Batches, 3)
	for _, b := range tt.LabSlots[0].Batches {
		assert.Len(t, b.Teachers(), 2, "batch %d should have two supervisors", b.BatchNumber)
	}
	for _, slot := range tt.TheorySlots {
		require.NotNil(t, slot.ClassroomID, "slot %s has no classroom", slot.Window)
		assert.Equal(t, 60, slot.Window.Minutes())
	}
	assert.Equal(t, PhaseValidation, tt.Metadata.CurrentPhase)
	assert.True(t, tt.Metadata.Clean)
	assert.NotNil(t, tt.Metadata.GeneratedAt)
	assert.True(t, res.Report.Completed)
	assert.True(t, res.Report.Clean)
	assert.Len(t, res.Report.Phases, TotalPhaseCount)
}

func TestPipelineRunRejectsEmptyInput(t *testing.T) {
	pipeline := NewPipeline(Config{}, nil)

	_, err := pipeline.Run(context.Background(), Input{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSections))
	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseBootstrap, phaseErr.Phase)
}

func TestPipelineRunRejectsWrongBatchCount(t *testing.T) {
	in := singleSectionInput()
	in.Sections[0].Batches = []string{"B1", "B2"}

	_, err := NewPipeline(testConfig(1), nil).Run(context.Background(), in)
	require.Error(t, err)
}

func TestPipelineRunProfessorCapIsHard(t *testing.T) {
	b := newInputBuilder().
		section("ise-7a").
		lab("lab-a", "room-a").
		lab("lab-b", "room-b").
		lab("lab-c", "room-c").
		teacher("prof-1", models.PositionProfessor, "lab-a", "lab-b", "lab-c")
	for i := 1; i <= 6; i++ {
		b.teacher(fmt.Sprintf("asst-%d", i), models.PositionAssistantProfessor, "lab-a", "lab-b", "lab-c")
	}
	for _, lab := range []struct{ id, room string }{{"lab-a", "room-a"}, {"lab-b", "room-b"}, {"lab-c", "room-c"}} {
		b.labBatch("ise-7a", lab.id, lab.room, 1, "prof-1")
		b.labBatch("ise-7a", lab.id, lab.room, 2, "")
		b.labBatch("ise-7a", lab.id, lab.room, 3, "")
	}

	res, err := NewPipeline(testConfig(3), nil).Run(context.Background(), b.build())
	require.NoError(t, err)

	load := 0
	for _, slot := range res.Timetables[0].LabSlots {
		for _, batch := range slot.Batches {
			assert.Len(t, batch.Teachers(), 2)
			for _, id := range batch.Teachers() {
				if id == "prof-1" {
					load++
				}
			}
		}
	}
	assert.Equal(t, 2, load)

	phase6, ok := res.Report.Phase(PhaseLabTeachers)
	require.True(t, ok)
	stripped := 0
	for _, item := range phase6.Unresolved {
		if item.Reason == ReasonCapExceeded {
			stripped++
			assert.Equal(t, "prof-1", item.TeacherID)
		}
	}
	assert.Equal(t, 1, stripped)
	assert.Empty(t, res.Report.Conflicts)
}

func TestPipelineRunNeverDoubleBooks(t *testing.T) {
	for _, seed := range []int64{1, 2, 3, 11, 99} {
		res, err := NewPipeline(testConfig(seed), nil).Run(context.Background(), rotationInput("ise-3a", "ise-3b", "ise-3c"))
		require.NoError(t, err)

		_, conflicts := availability.Build(res.Timetables)
		assert.Empty(t, conflicts, "seed %d", seed)
		assert.Empty(t, res.Report.Conflicts, "seed %d", seed)

		phase3, ok := res.Report.Phase(PhaseLabs)
		require.True(t, ok)
		assert.Empty(t, phase3.Unresolved, "seed %d", seed)
		assert.Equal(t, phase3.LabSearch.PerfectScore, phase3.Counters["sessionsPlaced"], "seed %d", seed)
	}
}

func TestPipelineRunKeepsBatchesSynchronized(t *testing.T) {
	res, err := NewPipeline(testConfig(5), nil).Run(context.Background(), rotationInput("ise-3a", "ise-3b"))
	require.NoError(t, err)

	for _, tt := range res.Timetables {
		require.Len(t, tt.LabSlots, 3)
		seen := map[int]map[string]bool{}
		for _, slot := range tt.LabSlots {
			labs := map[string]bool{}
			batches := map[int]bool{}
			for _, b := range slot.Batches {
				assert.False(t, batches[b.BatchNumber], "batch %d twice in one window", b.BatchNumber)
				batches[b.BatchNumber] = true
				assert.False(t, labs[b.LabID], "lab %s shared in one window", b.LabID)
				labs[b.LabID] = true
				if seen[b.BatchNumber] == nil {
					seen[b.BatchNumber] = map[string]bool{}
				}
				seen[b.BatchNumber][b.LabID] = true
			}
			assert.Len(t, batches, 3)
		}
		for batch, labs := range seen {
			assert.Len(t, labs, 3, "batch %d should attend every lab once", batch)
		}
		for i := 0; i < len(tt.LabSlots); i++ {
			for j := i + 1; j < len(tt.LabSlots); j++ {
				gap := tt.LabSlots[i].Window.GapTo(tt.LabSlots[j].Window)
				assert.True(t, gap == -1 && tt.LabSlots[i].Window.Day != tt.LabSlots[j].Window.Day || gap >= 120,
					"labs %s and %s are too close", tt.LabSlots[i].Window, tt.LabSlots[j].Window)
			}
		}
	}
}

func TestPipelineRunIsDeterministicForSeed(t *testing.T) {
	windows := func() []models.TimeWindow {
		res, err := NewPipeline(testConfig(42), nil).Run(context.Background(), rotationInput("ise-3a", "ise-3b", "ise-3c"))
		require.NoError(t, err)
		var out []models.TimeWindow
		for _, tt := range res.Timetables {
			for _, slot := range tt.LabSlots {
				out = append(out, slot.Window)
			}
			for _, slot := range tt.TheorySlots {
				out = append(out, slot.Window)
			}
		}
		return out
	}
	assert.Equal(t, windows(), windows())
}

func TestPipelineRunParallelTrialsMatchSequential(t *testing.T) {
	sequential := testConfig(8)
	parallel := testConfig(8)
	parallel.LabWorkers = 4

	a, err := NewPipeline(sequential, nil).Run(context.Background(), rotationInput("ise-3a", "ise-3b", "ise-3c"))
	require.NoError(t, err)
	b, err := NewPipeline(parallel, nil).Run(context.Background(), rotationInput("ise-3a", "ise-3b", "ise-3c"))
	require.NoError(t, err)

	sa, _ := a.Report.Phase(PhaseLabs)
	sb, _ := b.Report.Phase(PhaseLabs)
	assert.Equal(t, sa.LabSearch.BestTrial, sb.LabSearch.BestTrial)
	assert.Equal(t, sa.LabSearch.BestScore, sb.LabSearch.BestScore)
}

func TestPipelineRunFixedSlots(t *testing.T) {
	monday := models.MustWindow(models.Monday, "09:00", "10:00")
	in := newInputBuilder().
		section("ise-5a").
		subject("elective", models.SubjectElective, 3).
		subject("dbms", models.SubjectRegular, 2).
		classroom("room-101").
		teacher("t-el", models.PositionAssistantProfessor).
		teacher("t-dbms", models.PositionAssistantProfessor).
		fixed("ise-5a", "elective", "t-el", monday).
		fixed("ise-5a", "elective", "t-el", models.MustWindow(models.Monday, "09:30", "10:30")).
		fixed("ghost", "elective", "", monday).
		theory("ise-5a", "elective", "t-el").
		theory("ise-5a", "dbms", "t-dbms").
		build()

	res, err := NewPipeline(testConfig(1), nil).Run(context.Background(), in)
	require.NoError(t, err)

	tt := res.Timetables[0]
	var fixed, elective int
	for _, slot := range tt.TheorySlots {
		if slot.IsFixed {
			fixed++
			assert.Equal(t, monday, slot.Window)
			assert.NotNil(t, slot.ClassroomID)
		}
		if slot.SubjectID == "elective" {
			elective++
		}
	}
	assert.Equal(t, 1, fixed)
	assert.Equal(t, 1, elective, "fixed electives are not scheduled again in the theory phase")

	phase2, _ := res.Report.Phase(PhaseFixedSlots)
	reasons := map[ReasonCode]int{}
	for _, item := range phase2.Unresolved {
		reasons[item.Reason]++
	}
	assert.Equal(t, 1, reasons[ReasonFixedSlotConflict])
	assert.Equal(t, 1, reasons[ReasonUnknownSection])

	phase4, _ := res.Report.Phase(PhaseTheory)
	assert.Equal(t, 1, phase4.Counters["skippedFixed"])
}

func TestPipelineRunTheoryRules(t *testing.T) {
	in := rotationInput("ise-3a")
	res, err := NewPipeline(testConfig(2), nil).Run(context.Background(), in)
	require.NoError(t, err)

	tt := res.Timetables[0]
	perDay := map[string]map[models.Day]int{}
	for _, slot := range tt.TheorySlots {
		if perDay[slot.SubjectID] == nil {
			perDay[slot.SubjectID] = map[models.Day]int{}
		}
		perDay[slot.SubjectID][slot.Window.Day]++
		for _, b := range tt.ActiveBreaks() {
			assert.False(t, b.Window.Overlaps(slot.Window), "theory at %s overlaps %s", slot.Window, b.Label)
		}
		if slot.SubjectID == "proj" {
			assert.True(t, slot.IsProject)
			assert.Nil(t, slot.TeacherID)
			assert.Nil(t, slot.ClassroomID)
		}
	}
	for subject, days := range perDay {
		for day, n := range days {
			assert.LessOrEqual(t, n, 1, "%s has %d sessions on %s", subject, n, day)
		}
	}
	for day := range perDay["ml"] {
		assert.LessOrEqual(t, tt.ScheduledMinutes(day), 8*60)
	}

	phase4, _ := res.Report.Phase(PhaseTheory)
	assert.Equal(t, 5, phase4.Counters["sessionsPlaced"])
	assert.InDelta(t, 1.0, phase4.SuccessRate(), 0.0001)
	require.Len(t, phase4.Categories, 2)
	assert.Equal(t, models.SubjectRegular, phase4.Categories[0].Category)
	assert.Equal(t, models.SubjectProject, phase4.Categories[1].Category)
}

func TestPipelineRunReportsDailyLimitShortfall(t *testing.T) {
	in := newInputBuilder().
		section("ise-1a").
		subject("math", models.SubjectRegular, 7).
		classroom("room-101").
		teacher("t-math", models.PositionAssistantProfessor).
		theory("ise-1a", "math", "t-math").
		build()

	res, err := NewPipeline(testConfig(1), nil).Run(context.Background(), in)
	require.NoError(t, err)

	phase4, _ := res.Report.Phase(PhaseTheory)
	require.Len(t, phase4.Unresolved, 1)
	assert.Equal(t, ReasonDailyLimit, phase4.Unresolved[0].Reason)
	assert.Equal(t, 2, phase4.Unresolved[0].Hours)
	assert.Equal(t, 5, phase4.Counters["sessionsPlaced"])
	assert.Equal(t, 0, phase4.Categories[0].SubjectsScheduled)
}

func TestPipelineRunReportsMissingClassroom(t *testing.T) {
	in := singleSectionInput()
	in.Classrooms = nil

	res, err := NewPipeline(testConfig(1), nil).Run(context.Background(), in)
	require.NoError(t, err)

	phase5, _ := res.Report.Phase(PhaseClassrooms)
	assert.Equal(t, 10, phase5.Counters["unassigned"])
	assert.Len(t, phase5.Unresolved, 10)
	assert.Equal(t, ReasonNoFreeRoom, phase5.Unresolved[0].Reason)
}

func TestPipelineRunSingleTeacherFallback(t *testing.T) {
	in := singleSectionInput()
	in.Teachers = in.Teachers[:4] // three theory teachers and one lab supervisor

	res, err := NewPipeline(testConfig(1), nil).Run(context.Background(), in)
	require.NoError(t, err)

	phase6, _ := res.Report.Phase(PhaseLabTeachers)
	assert.Equal(t, 1, phase6.Counters["singleTeacher"])
	reasons := map[ReasonCode]int{}
	for _, item := range phase6.Unresolved {
		reasons[item.Reason]++
	}
	assert.Equal(t, 1, reasons[ReasonSingleTeacher])
	assert.Equal(t, 2, reasons[ReasonNoEligibleTeacher])
}

func TestPipelineValidateFlagsDoubleBooking(t *testing.T) {
	in := rotationInput("ise-3a", "ise-3b")
	res, err := NewPipeline(testConfig(4), nil).Run(context.Background(), in)
	require.NoError(t, err)

	a, b := res.Timetables[0], res.Timetables[1]
	shared := models.StringPtr("t-shared")
	a.TheorySlots[0].TeacherID = shared
	moved := a.TheorySlots[0].Window
	for i := range b.TheorySlots {
		if !b.TheorySlots[i].IsProject {
			b.TheorySlots[i].TeacherID = shared
			b.TheorySlots[i].Window = moved
			break
		}
	}

	report, err := NewPipeline(testConfig(4), nil).Validate(context.Background(), in, res.Timetables)
	require.NoError(t, err)
	assert.False(t, report.Clean)
	assert.NotEmpty(t, report.Conflicts)
	assert.False(t, report.SectionClean[a.SectionID])
	assert.False(t, report.SectionClean[b.SectionID])
	assert.False(t, b.Metadata.Clean)
}

func TestPipelineRunLabTeacherCaps(t *testing.T) {
	labs := []struct{ id, room string }{{"lab-a", "room-a"}, {"lab-b", "room-b"}, {"lab-c", "room-c"}}
	tests := []struct {
		name  string
		input func() Input
		tiers []CapTier
		check func(t *testing.T, res *Result, phase6 PhaseSummary)
	}{
		{
			name: "associate hard cap strips the fifth pre-assignment",
			input: func() Input {
				b := newInputBuilder().
					section("ise-7a").
					section("ise-7b").
					lab("lab-a", "room-a").
					lab("lab-b", "room-b").
					lab("lab-c", "room-c").
					teacher("assoc-1", models.PositionAssociateProfessor, "lab-a", "lab-b", "lab-c")
				for i := 1; i <= 12; i++ {
					b.teacher(fmt.Sprintf("asst-%02d", i), models.PositionAssistantProfessor, "lab-a", "lab-b", "lab-c")
				}
				for _, lab := range labs {
					b.labBatch("ise-7a", lab.id, lab.room, 1, "assoc-1")
					b.labBatch("ise-7a", lab.id, lab.room, 2, "")
					b.labBatch("ise-7a", lab.id, lab.room, 3, "")
				}
				for i, lab := range labs {
					first := "assoc-1"
					if i == 2 {
						first = ""
					}
					b.labBatch("ise-7b", lab.id, lab.room, 1, first)
					b.labBatch("ise-7b", lab.id, lab.room, 2, "")
					b.labBatch("ise-7b", lab.id, lab.room, 3, "")
				}
				return b.build()
			},
			check: func(t *testing.T, res *Result, phase6 PhaseSummary) {
				load := 0
				for _, tt := range res.Timetables {
					for _, slot := range tt.LabSlots {
						for _, batch := range slot.Batches {
							assert.Len(t, batch.Teachers(), 2)
							for _, id := range batch.Teachers() {
								if id == "assoc-1" {
									load++
								}
							}
						}
					}
				}
				assert.Equal(t, 4, load)
				assert.Equal(t, 1, phase6.Counters["stripped"])
				stripped := 0
				for _, item := range phase6.Unresolved {
					if item.Reason == ReasonCapExceeded {
						stripped++
						assert.Equal(t, "assoc-1", item.TeacherID)
					}
				}
				assert.Equal(t, 1, stripped)
				assert.Empty(t, phase6.Overflow)

				phase7, _ := res.Report.Phase(PhaseValidation)
				for _, item := range phase7.Unresolved {
					assert.NotEqual(t, ReasonCapViolation, item.Reason)
				}
			},
		},
		{
			name:  "assistant soft cap overflows and is reported",
			input: func() Input { return rotationInput("ise-3a") },
			tiers: []CapTier{
				{Name: "professor", Positions: []models.Position{models.PositionProfessor}, Cap: 2, Hard: true},
				{Name: "associate", Positions: []models.Position{models.PositionAssociateProfessor}, Cap: 4, Hard: true},
				{Name: "assistant", Positions: []models.Position{models.PositionAssistantProfessor, models.PositionGuestFaculty}, Cap: 1, Hard: false},
			},
			check: func(t *testing.T, res *Result, phase6 PhaseSummary) {
				seats := 0
				for _, slot := range res.Timetables[0].LabSlots {
					for _, batch := range slot.Batches {
						assert.Len(t, batch.Teachers(), 2)
						seats += len(batch.Teachers())
					}
				}
				require.Equal(t, 18, seats)

				// Ten eligible assistants each take their one seat before anyone overflows.
				over := 0
				for _, n := range phase6.Overflow {
					over += n
				}
				assert.Equal(t, seats-10, over)
				assert.Equal(t, len(phase6.Overflow), phase6.Counters["overflowTeachers"])

				items := 0
				for _, item := range phase6.Unresolved {
					if item.Reason == ReasonSoftCapOverflow {
						items++
						assert.Contains(t, phase6.Overflow, item.TeacherID)
					}
				}
				assert.Equal(t, len(phase6.Overflow), items)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(3)
			if tc.tiers != nil {
				cfg.CapTiers = tc.tiers
			}
			res, err := NewPipeline(cfg, nil).Run(context.Background(), tc.input())
			require.NoError(t, err)

			phase3, _ := res.Report.Phase(PhaseLabs)
			require.Empty(t, phase3.Unresolved)
			phase6, ok := res.Report.Phase(PhaseLabTeachers)
			require.True(t, ok)
			tc.check(t, res, phase6)
		})
	}
}

func TestPipelineRunSpreadsScarceSupervisors(t *testing.T) {
	in := singleSectionInput()
	in.Teachers = in.Teachers[:6] // three theory teachers and three lab supervisors

	res, err := NewPipeline(testConfig(1), nil).Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, res.Timetables[0].LabSlots, 1)
	for _, b := range res.Timetables[0].LabSlots[0].Batches {
		assert.Len(t, b.Teachers(), 1, "batch %d", b.BatchNumber)
	}
	phase6, _ := res.Report.Phase(PhaseLabTeachers)
	assert.Equal(t, 3, phase6.Counters["singleTeacher"])
	for _, item := range phase6.Unresolved {
		assert.NotEqual(t, ReasonNoEligibleTeacher, item.Reason)
	}
}

func TestPipelineRunLabsRetireOverlappedBreaks(t *testing.T) {
	breakWindows := testConfig(7)
	// Both windows cover a default break, so every lab displaces one.
	breakWindows.LabWindows = []models.ClockRange{{Start: 10 * 60, End: 12 * 60}, {Start: 12 * 60, End: 14 * 60}}
	tests := []struct {
		name       string
		cfg        Config
		everyLabOn bool
	}{
		{name: "default windows", cfg: testConfig(7)},
		{name: "only break windows", cfg: breakWindows, everyLabOn: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := NewPipeline(tc.cfg, nil).Run(context.Background(), rotationInput("s1", "s2"))
			require.NoError(t, err)

			retired := 0
			for _, tt := range res.Timetables {
				require.NotEmpty(t, tt.LabSlots)
				markers := 0
				for _, b := range tt.Breaks {
					if b.IsDefault && b.IsRemoved {
						markers++
					}
				}
				retired += markers
				if tc.everyLabOn {
					assert.Equal(t, len(tt.LabSlots), markers, "section %s", tt.SectionID)
				}
				for _, b := range tt.ActiveBreaks() {
					for _, slot := range tt.LabSlots {
						assert.False(t, b.Window.Overlaps(slot.Window), "lab at %s overlaps %s", slot.Window, b.Label)
					}
					for _, slot := range tt.TheorySlots {
						assert.False(t, b.Window.Overlaps(slot.Window), "theory at %s overlaps %s", slot.Window, b.Label)
					}
				}
			}
			phase3, _ := res.Report.Phase(PhaseLabs)
			assert.Equal(t, retired, phase3.Counters["breaksRetired"])
			assert.True(t, res.Report.Clean)
		})
	}
}

func TestPipelineValidateFlagsBreakOverlap(t *testing.T) {
	in := rotationInput("s1", "s2")
	cfg := testConfig(7)
	cfg.LabWindows = []models.ClockRange{{Start: 10 * 60, End: 12 * 60}, {Start: 12 * 60, End: 14 * 60}}
	res, err := NewPipeline(cfg, nil).Run(context.Background(), in)
	require.NoError(t, err)

	tt := res.Timetables[0]
	tt.Breaks = nil

	report, err := NewPipeline(cfg, nil).Validate(context.Background(), in, res.Timetables)
	require.NoError(t, err)
	assert.False(t, report.Clean)
	assert.False(t, report.SectionClean[tt.SectionID])
	assert.True(t, report.SectionClean[res.Timetables[1].SectionID])

	phase7, _ := report.Phase(PhaseValidation)
	overlaps := 0
	for _, item := range phase7.Unresolved {
		if item.Reason == ReasonBreakOverlap {
			overlaps++
			assert.Equal(t, tt.SectionID, item.SectionID)
		}
	}
	assert.Equal(t, len(tt.LabSlots), overlaps)
}

func TestPipelineRunRoundsUpLongSessions(t *testing.T) {
	in := newInputBuilder().
		section("ise-1a").
		subject("ethics", models.SubjectRegular, 1).
		subject("math", models.SubjectRegular, 2).
		classroom("room-101").
		teacher("t-ethics", models.PositionAssistantProfessor).
		teacher("t-math", models.PositionAssistantProfessor).
		theory("ise-1a", "ethics", "t-ethics").
		theory("ise-1a", "math", "t-math").
		build()
	cfg := testConfig(1)
	cfg.TheorySessionMinutes = 90

	res, err := NewPipeline(cfg, nil).Run(context.Background(), in)
	require.NoError(t, err)

	perSubject := map[string]int{}
	for _, slot := range res.Timetables[0].TheorySlots {
		assert.Equal(t, 90, slot.Window.Minutes())
		perSubject[slot.SubjectID]++
	}
	assert.Equal(t, 1, perSubject["ethics"])
	assert.Equal(t, 2, perSubject["math"])

	phase4, _ := res.Report.Phase(PhaseTheory)
	assert.Equal(t, 3, phase4.Counters["sessionsRequired"])
	require.Len(t, phase4.Categories, 1)
	assert.Equal(t, 3, phase4.Categories[0].HoursRequired)
	assert.Equal(t, 3, phase4.Categories[0].HoursPlaced)
	assert.InDelta(t, 1.0, phase4.SuccessRate(), 0.0001)
}

func TestConfigWithDefaultsAlignsSessionToGrid(t *testing.T) {
	tests := []struct {
		minutes int
		want    int
	}{
		{0, 60},
		{-30, 60},
		{45, 60},
		{60, 60},
		{90, 90},
		{100, 120},
	}
	for _, tc := range tests {
		cfg := Config{TheorySessionMinutes: tc.minutes}.withDefaults()
		assert.Equal(t, tc.want, cfg.TheorySessionMinutes, "input %d", tc.minutes)
	}
}
