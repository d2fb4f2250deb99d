package editor

import (
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// Severity tags a conflict variant.
type Severity string

const (
	SeverityHard    Severity = "HARD_BLOCK"
	SeveritySoft    Severity = "SOFT_CONFLICT"
	SeverityWarning Severity = "WARNING"
)

// ConflictCode names the rule a proposal breaks.
type ConflictCode string

const (
	CodeFixedImmovable  ConflictCode = "FIXED_SLOT_IMMOVABLE"
	CodeLabOverlap      ConflictCode = "LAB_OVERLAP"
	CodeFixedOverlap    ConflictCode = "FIXED_SLOT_OVERLAP"
	CodeTeacherGlobal   ConflictCode = "TEACHER_BUSY_OTHER_SECTION"
	CodeTeacherLocal    ConflictCode = "TEACHER_BUSY_THIS_SECTION"
	CodeSlotOccupied    ConflictCode = "SLOT_OCCUPIED"
	CodeBreakOccupied   ConflictCode = "BREAK_OCCUPIED"
	CodeDefaultBreak    ConflictCode = "DEFAULT_BREAK"
	CodeDayExtended     ConflictCode = "DAY_EXTENDED"
	CodeDailyHours      ConflictCode = "DAILY_HOURS_EXCEEDED"
	CodeRoomBusy        ConflictCode = "ROOM_BUSY"
	CodeRoomBusyLocally ConflictCode = "ROOM_BUSY_THIS_SECTION"
)

// Conflict is one finding of the checker. Every finding carries a user-facing message.
type Conflict struct {
	Severity Severity        `json:"severity"`
	Code     ConflictCode    `json:"code"`
	Message  string          `json:"message"`
	Slot     *models.SlotRef `json:"slot,omitempty"`
}

// HardBlock builds a conflict that no confirmation can override.
func HardBlock(code ConflictCode, message string, ref *models.SlotRef) Conflict {
	return Conflict{Severity: SeverityHard, Code: code, Message: message, Slot: ref}
}

// SoftConflict builds a conflict that may be overridden after confirmation.
func SoftConflict(code ConflictCode, message string, ref *models.SlotRef) Conflict {
	return Conflict{Severity: SeveritySoft, Code: code, Message: message, Slot: ref}
}

// Warning builds an advisory soft conflict.
func Warning(code ConflictCode, message string) Conflict {
	return Conflict{Severity: SeverityWarning, Code: code, Message: message}
}

// Decision is the reduced outcome of a proposal.
type Decision string

const (
	DecisionApplied         Decision = "APPLIED"
	DecisionBlocked         Decision = "BLOCKED"
	DecisionConfirmRequired Decision = "CONFIRM_REQUIRED"
)

// Reduce collapses a conflict list: any hard block wins, then any soft conflict or warning
// requires confirmation, otherwise the proposal applies.
func Reduce(conflicts []Conflict) Decision {
	decision := DecisionApplied
	for _, c := range conflicts {
		if c.Severity == SeverityHard {
			return DecisionBlocked
		}
		decision = DecisionConfirmRequired
	}
	return decision
}

// Messages lists conflict messages in order.
func Messages(conflicts []Conflict) []string {
	out := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, c.Message)
	}
	return out
}
