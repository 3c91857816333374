package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRowStatus(t *testing.T) {
	tests := map[string]RowStatus{
		"deliverable":     RowDeliverable,
		" Deliverable ":   RowDeliverable,
		"UNDELIVERABLE":   RowUndeliverable,
		"risky":           RowRisky,
		"unknown":         RowUnknown,
		"catch-all":       RowUnknown,
		"":                RowUnknown,
		"deliverable-ish": RowUnknown,
	}

	for raw, want := range tests {
		assert.Equal(t, want, ParseRowStatus(raw), "raw %q", raw)
	}
}

func TestSummarize(t *testing.T) {
	rows := []ValidationRow{
		{Email: "a@acme.io", Status: RowDeliverable},
		{Email: "b@acme.io", Status: "Deliverable"},
		{Email: "c@acme.io", Status: RowRisky},
		{Email: "d@acme.io", Status: RowUndeliverable},
		{Email: "e@acme.io", Status: "valid"},
	}

	s := Summarize(rows)

	assert.Equal(t, Summary{Total: 5, Deliverable: 2, Undeliverable: 1, Risky: 1, Unknown: 1}, s)
	assert.Equal(t, s.Total, s.Deliverable+s.Undeliverable+s.Risky+s.Unknown)
	assert.InDelta(t, 0.4, s.SuccessRate(), 1e-9)
	assert.InDelta(t, 0.4, s.RiskRate(), 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)

	assert.Zero(t, s.Total)
	assert.Zero(t, s.SuccessRate())
	assert.Zero(t, s.RiskRate())
}

func TestRowDisplayFallbacks(t *testing.T) {
	row := ValidationRow{GeneratedEmail: "ada.lovelace@acme.io", FirstName: "Ada", LastName: "Lovelace"}

	assert.Equal(t, "ada.lovelace@acme.io", row.Address())
	assert.Equal(t, "Ada Lovelace", row.DisplayName())

	row.Email = "ada@acme.io"
	row.Name = "A. Lovelace"
	assert.Equal(t, "ada@acme.io", row.Address())
	assert.Equal(t, "A. Lovelace", row.DisplayName())
}

func TestPollingErrorUnwraps(t *testing.T) {
	err := &PollingError{JobID: "job-1", Err: ErrNotFound}

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "job-1")

	var pollErr *PollingError
	assert.True(t, errors.As(error(err), &pollErr))
}
