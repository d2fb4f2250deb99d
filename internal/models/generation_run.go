package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// RunStatus captures the lifecycle of a generation run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the run will not change any more.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// GenerationRun is the persisted record of one pipeline execution over an academic year
// and semester type.
type GenerationRun struct {
	ID           string         `db:"id" json:"id"`
	AcademicYear string         `db:"academic_year" json:"academicYear"`
	SemesterType SemesterType   `db:"semester_type" json:"semesterType"`
	Status       RunStatus      `db:"status" json:"status"`
	Params       RunParams      `db:"params" json:"params"`
	Seed         int64          `db:"seed" json:"seed"`
	Report       types.JSONText `db:"report" json:"report,omitempty"`
	ErrorMessage *string        `db:"error_message" json:"errorMessage,omitempty"`
	CreatedBy    string         `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	StartedAt    *time.Time     `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt   *time.Time     `db:"finished_at" json:"finishedAt,omitempty"`
}

// RunParams stores the request-scoped tuning persisted as JSONB.
type RunParams struct {
	Seed       int64 `json:"seed,omitempty"`
	LabTrials  int   `json:"labTrials,omitempty"`
	LabWorkers int   `json:"labWorkers,omitempty"`
	Async      bool  `json:"async"`
}

// Value marshals params to JSON for persistence.
func (p RunParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal run params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *RunParams) Scan(value interface{}) error {
	if value == nil {
		*p = RunParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for RunParams", value)
	}
	if len(data) == 0 {
		*p = RunParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal run params: %w", err)
	}
	return nil
}
