package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"":            StatusPending,
		"confirmed":   StatusConfirmed,
		"CONFIRMADA":  StatusConfirmed,
		"en_consulta": StatusInConsultation,
		"CANCELADA":   StatusCancelled,
		" COMPLETED ": StatusCompleted,
	}
	for in, want := range tests {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("NO_SHOW")
	assert.Error(t, err)
}

func TestEditable(t *testing.T) {
	assert.True(t, StatusPending.Editable())
	assert.True(t, StatusConfirmed.Editable())
	assert.False(t, StatusInConsultation.Editable())
	assert.False(t, StatusCancelled.Editable())
}

func TestAppointmentEventAndTitle(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	a := Appointment{ID: "apt-1", Start: start, End: start.Add(30 * time.Minute), Reason: "Control"}

	e := a.Event()
	assert.Equal(t, "apt-1", e.ID)
	assert.Equal(t, 30*time.Minute, a.Duration())
	assert.Equal(t, "Control", a.Title())

	a.Summary = "Dr. Rivera"
	assert.Equal(t, "Dr. Rivera", a.Title())
	assert.Equal(t, "apt-1", Appointment{ID: "apt-1"}.Title())
}
