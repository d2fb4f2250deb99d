package dto

import (
	"fmt"
	"time"

	"github.com/noah-isme/ise-timetable-api/internal/editor"
	"github.com/noah-isme/ise-timetable-api/internal/models"
)

// WindowPayload is a time window as clients send it: a day name and HH:MM clock strings.
type WindowPayload struct {
	Day   string `json:"day" validate:"required"`
	Start string `json:"start" validate:"required,len=5"`
	End   string `json:"end" validate:"required,len=5"`
}

// ToWindow parses and validates the window.
func (p WindowPayload) ToWindow() (models.TimeWindow, error) {
	day, err := models.ParseDay(p.Day)
	if err != nil {
		return models.TimeWindow{}, err
	}
	w, err := models.NewTimeWindow(day, p.Start, p.End)
	if err != nil {
		return models.TimeWindow{}, fmt.Errorf("window %s %s-%s: %w", p.Day, p.Start, p.End, err)
	}
	return w, nil
}

// EditorProposalRequest describes a move, an added break or a classroom change.
type EditorProposalRequest struct {
	Kind        string         `json:"kind" validate:"required,oneof=MOVE_SLOT MOVE_BREAK ADD_BREAK CHANGE_CLASSROOM"`
	SlotID      string         `json:"slotId" validate:"required_if=Kind MOVE_SLOT,required_if=Kind CHANGE_CLASSROOM"`
	BreakID     string         `json:"breakId"`
	Origin      *WindowPayload `json:"origin"`
	Window      *WindowPayload `json:"window" validate:"required_unless=Kind CHANGE_CLASSROOM"`
	Label       string         `json:"label" validate:"omitempty,max=64"`
	ClassroomID *string        `json:"classroomId"`
}

// DeleteBreakRequest deletes a break record.
type DeleteBreakRequest struct {
	BreakID string `json:"breakId" validate:"required"`
}

// DefaultBreakRequest addresses a default break by its catalogue window.
type DefaultBreakRequest struct {
	Origin WindowPayload `json:"origin"`
}

// EditorSessionResponse describes an open editor session.
type EditorSessionResponse struct {
	SessionID string            `json:"sessionId"`
	OwnerID   string            `json:"ownerId"`
	ExpiresAt time.Time         `json:"expiresAt"`
	State     editor.State      `json:"state"`
	Timetable *models.Timetable `json:"timetable"`
}

// EditorOutcomeResponse is the result of one editor operation.
type EditorOutcomeResponse struct {
	Decision  editor.Decision   `json:"decision"`
	Conflicts []editor.Conflict `json:"conflicts"`
	Action    *editor.Action    `json:"action,omitempty"`
	Notices   []string          `json:"notices,omitempty"`
	State     editor.State      `json:"state"`
	Timetable *models.Timetable `json:"timetable,omitempty"`
}
