package processor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContactsMapsHeaderAliases(t *testing.T) {
	input := "\ufeffE-mail, First Name ,Surname,Organization\n" +
		"jane@acme.io,Jane,Doe,Acme\n" +
		"bob@globex.com,Bob,Stone,Globex\n"

	result, err := ParseContacts(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, result.Contacts, 2)
	assert.Zero(t, result.Skipped)

	first := result.Contacts[0]
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "jane@acme.io", first.Email)
	assert.Equal(t, "Jane", first.FirstName)
	assert.Equal(t, "Doe", first.LastName)
	assert.Equal(t, "Acme", first.Company)

	assert.Equal(t, 3, result.Contacts[1].Line)
}

func TestParseContactsKeepsRowsThatCanGenerateAnEmail(t *testing.T) {
	input := "first_name,last_name,website\n" +
		"Jane,Doe,https://www.acme.io/about\n" +
		",,\n"

	result, err := ParseContacts(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, result.Contacts, 1)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "acme.io", result.Contacts[0].Domain)
}

func TestParseContactsRejectsUnusableFiles(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty file", "", ErrEmptyFile},
		{"header only", "email,name\n", ErrEmptyFile},
		{"no email column", "company,phone\nAcme,555\n", ErrMissingColumns},
		{"every row skipped", "name,domain\n,\n", ErrEmptyFile},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseContacts(strings.NewReader(tt.input))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseContactsReportsMalformedCSV(t *testing.T) {
	_, err := ParseContacts(strings.NewReader("email\n\"unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse CSV")
}
