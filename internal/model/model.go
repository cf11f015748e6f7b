package model

import (
	"fmt"
	"strings"
	"time"

	"apptgrid/internal/layout"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusInConsultation Status = "IN_CONSULTATION"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// statusAliases maps the practice API's Spanish status names.
var statusAliases = map[string]Status{
	"PENDIENTE":   StatusPending,
	"CONFIRMADA":  StatusConfirmed,
	"EN_CONSULTA": StatusInConsultation,
	"COMPLETADA":  StatusCompleted,
	"CANCELADA":   StatusCancelled,
}

// ParseStatus accepts the English or Spanish spelling. Empty means pending.
func ParseStatus(s string) (Status, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch Status(v) {
	case "":
		return StatusPending, nil
	case StatusPending, StatusConfirmed, StatusInConsultation, StatusCompleted, StatusCancelled:
		return Status(v), nil
	}
	if st, ok := statusAliases[v]; ok {
		return st, nil
	}
	return "", fmt.Errorf("model: unknown appointment status %q", s)
}

// Editable reports whether an appointment in this state may still be moved or
// edited.
func (s Status) Editable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Appointment is one booked slot on a calendar, regardless of where it came
// from (practice API, ICS feed, imported file).
type Appointment struct {
	// ID is unique within a source; ICS occurrences use feed/uid@start.
	ID       string `json:"id"`
	SourceID string `json:"source_id"`

	PatientID string `json:"patient_id,omitempty"`
	DoctorID  string `json:"doctor_id,omitempty"`

	Summary string `json:"summary"`
	Reason  string `json:"reason,omitempty"`
	Notes   string `json:"notes,omitempty"`

	Status Status `json:"status"`
	AllDay bool   `json:"all_day"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration is End - Start; negative for malformed entries.
func (a Appointment) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// Event projects the appointment onto the layout engine's input.
func (a Appointment) Event() layout.Event {
	return layout.Event{ID: a.ID, Start: a.Start, End: a.End}
}

// Title is the label shown in a grid cell.
func (a Appointment) Title() string {
	if a.Summary != "" {
		return a.Summary
	}
	if a.Reason != "" {
		return a.Reason
	}
	return a.ID
}
