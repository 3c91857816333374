package model

import "strings"

// RowStatus is the normalized verdict for one validated contact
type RowStatus string

const (
	RowDeliverable   RowStatus = "deliverable"
	RowUndeliverable RowStatus = "undeliverable"
	RowRisky         RowStatus = "risky"
	RowUnknown       RowStatus = "unknown"
)

// ParseRowStatus normalizes a raw status string. Matching is case-insensitive
// and anything outside the vocabulary becomes RowUnknown.
func ParseRowStatus(raw string) RowStatus {
	switch RowStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case RowDeliverable:
		return RowDeliverable
	case RowUndeliverable:
		return RowUndeliverable
	case RowRisky:
		return RowRisky
	}
	return RowUnknown
}

// Contact is one parsed input row of an uploaded CSV
type Contact struct {
	Line      int    `json:"line"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Name      string `json:"name,omitempty"`
	Company   string `json:"company,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

// ValidationRow is the verdict produced for one contact
type ValidationRow struct {
	Email          string    `bson:"email,omitempty" json:"email,omitempty"`
	GeneratedEmail string    `bson:"generated_email,omitempty" json:"generated_email,omitempty"`
	Status         RowStatus `bson:"status" json:"status"`
	FirstName      string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName       string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Name           string    `bson:"name,omitempty" json:"name,omitempty"`
	Company        string    `bson:"company,omitempty" json:"company,omitempty"`
	RiskScore      *float64  `bson:"risk_score,omitempty" json:"risk_score,omitempty"`
	Reason         string    `bson:"reason,omitempty" json:"reason,omitempty"`
}

// Address returns the email to display, falling back to the generated one
func (r ValidationRow) Address() string {
	if r.Email != "" {
		return r.Email
	}
	return r.GeneratedEmail
}

// DisplayName returns the name column, falling back to first and last name
func (r ValidationRow) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Summary aggregates the verdicts of one finished job
type Summary struct {
	Total         int `bson:"total" json:"total"`
	Deliverable   int `bson:"deliverable" json:"deliverable"`
	Undeliverable int `bson:"undeliverable" json:"undeliverable"`
	Risky         int `bson:"risky" json:"risky"`
	Unknown       int `bson:"unknown" json:"unknown"`
}

// Summarize classifies every row in a single pass
func Summarize(rows []ValidationRow) Summary {
	var s Summary
	for _, row := range rows {
		s.Total++
		switch ParseRowStatus(string(row.Status)) {
		case RowDeliverable:
			s.Deliverable++
		case RowUndeliverable:
			s.Undeliverable++
		case RowRisky:
			s.Risky++
		default:
			s.Unknown++
		}
	}
	return s
}

// SuccessRate is the share of deliverable rows, 0 for an empty summary
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Deliverable) / float64(s.Total)
}

// RiskRate is the share of risky and undeliverable rows
func (s Summary) RiskRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Risky+s.Undeliverable) / float64(s.Total)
}
