package processor

import (
	"context"
	"deliverly/internal/model"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicValidator struct{}

func (panicValidator) Name() string { return "panic" }

func (panicValidator) Validate(context.Context, model.Contact) (model.ValidationRow, error) {
	panic("boom")
}

func TestSplitIntoBatches(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, SplitIntoBatches([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{}, SplitIntoBatches([]int{}, 3))
	assert.Nil(t, SplitIntoBatches([]int{1}, 0))
}

func TestValidateBatchPreservesOrder(t *testing.T) {
	contacts := make([]model.Contact, 40)
	for i := range contacts {
		contacts[i] = model.Contact{Line: i + 2, Email: fmt.Sprintf("user%d@acme.io", i)}
	}

	rows, err := ValidateBatch(context.Background(), NewRulesValidator(), contacts, 4)
	require.NoError(t, err)
	require.Len(t, rows, len(contacts))

	for i, row := range rows {
		assert.Equal(t, contacts[i].Email, row.Email)
	}
}

func TestValidateBatchRecoversPanics(t *testing.T) {
	contacts := []model.Contact{{Line: 2, Email: "jane@acme.io"}}

	_, err := ValidateBatch(context.Background(), panicValidator{}, contacts, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "panicked")
}
