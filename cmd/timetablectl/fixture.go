package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"regexp"

	"github.com/mitchellh/mapstructure"

	"github.com/noah-isme/ise-timetable-api/internal/models"
	"github.com/noah-isme/ise-timetable-api/internal/scheduler"
)

// fixture is the offline generation input: master data plus optional pipeline settings.
type fixture struct {
	scheduler.Input `mapstructure:",squash"`
	Config          *scheduler.Config `mapstructure:"config"`
}

// runOutput is what generate writes and validate reads back.
type runOutput struct {
	RunID      string              `json:"runId"`
	Seed       int64               `json:"seed"`
	Report     *scheduler.Report   `json:"report,omitempty"`
	Timetables []*models.Timetable `json:"timetables"`
}

var clockPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

var clockRangesType = reflect.TypeOf([]models.ClockRange{})

// clockHook lets fixtures write minutes as "HH:MM" and lab windows as "08:00-10:00,..." strings.
func clockHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	raw := data.(string)
	switch {
	case to == clockRangesType:
		return models.ParseClockRanges(raw)
	case to.Kind() == reflect.Int && clockPattern.MatchString(raw):
		return models.ParseClock(raw)
	}
	return data, nil
}

func decodeFixture(raw map[string]interface{}) (*fixture, error) {
	var out fixture
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			clockHook,
		),
		ErrorUnused: true,
		Result:      &out,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if len(out.Sections) == 0 {
		return nil, fmt.Errorf("fixture has no sections")
	}
	return &out, nil
}

func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return decodeFixture(raw)
}

func loadRunOutput(path string) (*runOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out runOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(out.Timetables) == 0 {
		return nil, fmt.Errorf("%s holds no timetables", path)
	}
	return &out, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func masterData(in scheduler.Input) *models.MasterData {
	return &models.MasterData{
		AcademicYear:      in.AcademicYear,
		SemesterType:      in.SemesterType,
		Sections:          in.Sections,
		Subjects:          in.Subjects,
		Labs:              in.Labs,
		Teachers:          in.Teachers,
		Classrooms:        in.Classrooms,
		LabRooms:          in.LabRooms,
		TheoryAssignments: in.TheoryAssignments,
		LabAssignments:    in.LabAssignments,
		FixedSlots:        in.FixedSlots,
	}
}

// inputFromTimetables rebuilds the section list when no master data fixture is given.
func inputFromTimetables(out *runOutput) scheduler.Input {
	in := scheduler.Input{RunID: out.RunID}
	for _, tt := range out.Timetables {
		if in.AcademicYear == "" {
			in.AcademicYear = tt.AcademicYear
			in.SemesterType = tt.SemesterType
		}
		in.Sections = append(in.Sections, models.Section{
			ID:           tt.SectionID,
			Name:         tt.SectionID,
			SemesterType: tt.SemesterType,
		})
	}
	return in
}
