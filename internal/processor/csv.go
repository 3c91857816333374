package processor

import (
	"deliverly/internal/model"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrEmptyFile is returned when a CSV has a header but no usable rows
	ErrEmptyFile = errors.New("file contains no contacts")

	// ErrMissingColumns is returned when the header has no email column and
	// not enough columns to generate one
	ErrMissingColumns = errors.New("file needs an email column, or name and domain columns")
)

const (
	columnEmail     = "email"
	columnFirstName = "first_name"
	columnLastName  = "last_name"
	columnName      = "name"
	columnCompany   = "company"
	columnDomain    = "domain"
)

// headerAliases maps normalized header spellings to canonical columns
var headerAliases = map[string]string{
	"email":          columnEmail,
	"email_address":  columnEmail,
	"e_mail":         columnEmail,
	"mail":           columnEmail,
	"first_name":     columnFirstName,
	"firstname":      columnFirstName,
	"first":          columnFirstName,
	"given_name":     columnFirstName,
	"last_name":      columnLastName,
	"lastname":       columnLastName,
	"last":           columnLastName,
	"surname":        columnLastName,
	"family_name":    columnLastName,
	"name":           columnName,
	"full_name":      columnName,
	"fullname":       columnName,
	"company":        columnCompany,
	"company_name":   columnCompany,
	"organization":   columnCompany,
	"organisation":   columnCompany,
	"domain":         columnDomain,
	"website":        columnDomain,
	"company_domain": columnDomain,
}

// ParseResult is the outcome of reading an uploaded CSV
type ParseResult struct {
	Contacts []model.Contact
	// Skipped counts rows that had neither an email nor enough data to
	// generate one
	Skipped int
}

// ParseContacts reads a CSV with a header row into contacts, in file order
func ParseContacts(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("could not read CSV header: %w", err)
	}

	columns := mapHeader(header)
	if !hasColumns(columns) {
		return nil, ErrMissingColumns
	}

	result := &ParseResult{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not parse CSV: %w", err)
		}

		line, _ := reader.FieldPos(0)
		contact := model.Contact{
			Line:      line,
			Email:     field(record, columns, columnEmail),
			FirstName: field(record, columns, columnFirstName),
			LastName:  field(record, columns, columnLastName),
			Name:      field(record, columns, columnName),
			Company:   field(record, columns, columnCompany),
			Domain:    normalizeDomain(field(record, columns, columnDomain)),
		}

		if contact.Email == "" && !canGenerate(contact) {
			result.Skipped++
			continue
		}
		result.Contacts = append(result.Contacts, contact)
	}

	if len(result.Contacts) == 0 {
		return nil, ErrEmptyFile
	}

	return result, nil
}

func mapHeader(header []string) map[string]int {
	columns := make(map[string]int)
	for i, raw := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)

		canonical, ok := headerAliases[key]
		if !ok {
			continue
		}
		if _, seen := columns[canonical]; !seen {
			columns[canonical] = i
		}
	}
	return columns
}

func hasColumns(columns map[string]int) bool {
	if _, ok := columns[columnEmail]; ok {
		return true
	}
	_, hasDomain := columns[columnDomain]
	_, hasName := columns[columnName]
	_, hasFirst := columns[columnFirstName]
	return hasDomain && (hasName || hasFirst)
}

func field(record []string, columns map[string]int, column string) string {
	i, ok := columns[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// normalizeDomain turns website-style values into a bare domain
func normalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	return domain
}
