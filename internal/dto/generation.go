package dto

import (
	"github.com/noah-isme/ise-timetable-api/internal/models"
	"github.com/noah-isme/ise-timetable-api/internal/scheduler"
)

// GenerateRunRequest starts a generation run over one academic year and semester type.
type GenerateRunRequest struct {
	AcademicYear string `json:"academicYear" validate:"required,max=16"`
	SemesterType string `json:"semesterType" validate:"required,oneof=ODD EVEN"`
	// Seed pins the randomized lab search; omitted or zero picks a time based seed.
	Seed       int64 `json:"seed"`
	LabTrials  int   `json:"labTrials" validate:"omitempty,min=1,max=10800"`
	LabWorkers int   `json:"labWorkers" validate:"omitempty,min=1,max=64"`
	Async      bool  `json:"async"`
}

// GenerationRunResponse exposes a run and, once finished, its decoded report.
type GenerationRunResponse struct {
	Run    models.GenerationRun `json:"run"`
	Report *scheduler.Report    `json:"report,omitempty"`
}

// ValidateScopeResponse summarises a validation-only pass.
type ValidateScopeResponse struct {
	Clean      bool                       `json:"clean"`
	Phase      scheduler.PhaseSummary     `json:"phase"`
	Unresolved []scheduler.UnresolvedItem `json:"unresolved"`
}
