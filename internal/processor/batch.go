package processor

import (
	"context"
	"deliverly/internal/model"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// SplitIntoBatches divides a slice of items into batches of the specified size
func SplitIntoBatches[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		return nil
	}

	if len(items) == 0 {
		return [][]T{}
	}

	batches := make([][]T, 0, (len(items)+batchSize-1)/batchSize)
	for i := 0; i < len(items); i += batchSize {
		end := min(i+batchSize, len(items))
		batches = append(batches, items[i:end])
	}

	return batches
}

// ValidateBatch runs the validator over contacts with at most concurrency
// calls in flight. Rows are returned in contact order. The first failure
// cancels the remaining calls.
func ValidateBatch(ctx context.Context, validator Validator, contacts []model.Contact, concurrency int) ([]model.ValidationRow, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	rows := make([]model.ValidationRow, len(contacts))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, contact := range contacts {
		i := i
		contact := contact
		group.Go(func() error {
			row, err := safeValidate(gctx, validator, contact)
			if err != nil {
				return fmt.Errorf("line %d: %w", contact.Line, err)
			}
			rows[i] = row
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return rows, nil
}

// safeValidate turns a validator panic into an error so it cannot take down
// the worker goroutine
func safeValidate(ctx context.Context, validator Validator, contact model.Contact) (row model.ValidationRow, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator %s panicked: %v", validator.Name(), r)
		}
	}()
	return validator.Validate(ctx, contact)
}
