package processor

import (
	"context"
	"deliverly/internal/model"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Validator produces a verdict for a single contact
type Validator interface {
	// Name is the identifier jobs record and the registry keys on
	Name() string

	// Validate returns the verdict for one contact
	Validate(ctx context.Context, contact model.Contact) (model.ValidationRow, error)
}

// validate checks address syntax before the domain rules run
var validate = validator.New()

var roleAccounts = map[string]bool{
	"admin":     true,
	"billing":   true,
	"contact":   true,
	"hello":     true,
	"help":      true,
	"info":      true,
	"marketing": true,
	"no-reply":  true,
	"noreply":   true,
	"office":    true,
	"sales":     true,
	"support":   true,
	"team":      true,
}

var disposableDomains = map[string]bool{
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"sharklasers.com":   true,
	"tempmail.com":      true,
	"throwawaymail.com": true,
	"trashmail.com":     true,
	"yopmail.com":       true,
}

// RulesValidator classifies addresses with local syntax and domain rules
type RulesValidator struct{}

// NewRulesValidator creates the default validator
func NewRulesValidator() *RulesValidator {
	return &RulesValidator{}
}

func (v *RulesValidator) Name() string {
	return "rules"
}

func (v *RulesValidator) Validate(ctx context.Context, contact model.Contact) (model.ValidationRow, error) {
	if err := ctx.Err(); err != nil {
		return model.ValidationRow{}, err
	}

	row := baseRow(contact)
	address := row.Address()

	local, domain, ok := splitAddress(address)
	switch {
	case !ok:
		row.Status = model.RowUndeliverable
		row.Reason = "invalid address syntax"
		row.RiskScore = score(1)
	case !validDomain(domain):
		row.Status = model.RowUndeliverable
		row.Reason = "invalid domain"
		row.RiskScore = score(0.95)
	case disposableDomains[domain]:
		row.Status = model.RowRisky
		row.Reason = "disposable domain"
		row.RiskScore = score(0.8)
	case roleAccounts[local]:
		row.Status = model.RowRisky
		row.Reason = "role account"
		row.RiskScore = score(0.5)
	case row.Email == "":
		row.Status = model.RowUnknown
		row.Reason = "generated address, not verified"
		row.RiskScore = score(0.4)
	default:
		row.Status = model.RowDeliverable
		row.RiskScore = score(float64(hashOf(address)%20) / 100)
	}

	return row, nil
}

// StaticValidator assigns a stable pseudo-random verdict derived from the
// address hash. It is meant for demos and load tests.
type StaticValidator struct{}

// NewStaticValidator creates a hash-based validator
func NewStaticValidator() *StaticValidator {
	return &StaticValidator{}
}

func (v *StaticValidator) Name() string {
	return "static"
}

func (v *StaticValidator) Validate(ctx context.Context, contact model.Contact) (model.ValidationRow, error) {
	if err := ctx.Err(); err != nil {
		return model.ValidationRow{}, err
	}

	row := baseRow(contact)
	h := hashOf(row.Address())

	statuses := []model.RowStatus{
		model.RowDeliverable,
		model.RowDeliverable,
		model.RowRisky,
		model.RowUndeliverable,
		model.RowUnknown,
	}
	row.Status = statuses[h%uint32(len(statuses))]
	row.RiskScore = score(float64(h%101) / 100)

	return row, nil
}

// baseRow copies contact data into a row, generating a candidate address
// when the contact has none
func baseRow(contact model.Contact) model.ValidationRow {
	row := model.ValidationRow{
		Email:     strings.ToLower(contact.Email),
		FirstName: contact.FirstName,
		LastName:  contact.LastName,
		Name:      contact.Name,
		Company:   contact.Company,
	}
	if row.Email == "" {
		row.GeneratedEmail = GenerateEmail(contact)
	}
	return row
}

// GenerateEmail builds a first.last@domain candidate for a contact, or an
// empty string when the contact lacks a name or domain
func GenerateEmail(contact model.Contact) string {
	first, last := contact.FirstName, contact.LastName
	if parts := strings.Fields(contact.Name); first == "" && len(parts) > 0 {
		first = parts[0]
		if len(parts) > 1 {
			last = parts[len(parts)-1]
		}
	}

	first, last = slug(first), slug(last)
	if first == "" || contact.Domain == "" {
		return ""
	}
	if last == "" {
		return fmt.Sprintf("%s@%s", first, contact.Domain)
	}
	return fmt.Sprintf("%s.%s@%s", first, last, contact.Domain)
}

func canGenerate(contact model.Contact) bool {
	return GenerateEmail(contact) != ""
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitAddress(address string) (string, string, bool) {
	if err := validate.Var(address, "required,email"); err != nil {
		return "", "", false
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address[:at], address[at+1:], true
}

func validDomain(domain string) bool {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func hashOf(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func score(v float64) *float64 {
	return &v
}
