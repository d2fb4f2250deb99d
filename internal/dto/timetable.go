package dto

// TimetableScopeQuery selects the timetables of one academic year and semester type.
type TimetableScopeQuery struct {
	AcademicYear string `form:"academicYear" json:"academicYear" validate:"required,max=16"`
	SemesterType string `form:"semesterType" json:"semesterType" validate:"required,oneof=ODD EVEN"`
}

// BulkClearResponse reports how many timetables a bulk clear removed.
type BulkClearResponse struct {
	AcademicYear string `json:"academicYear"`
	SemesterType string `json:"semesterType"`
	Deleted      int64  `json:"deleted"`
}

// ExportQuery selects the export document type.
type ExportQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf xlsx"`
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}
