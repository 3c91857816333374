package aws

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileServiceRoundTrip(t *testing.T) {
	files := NewMemoryFileService()
	ctx := context.Background()

	location, err := files.UploadFile(ctx, "jobs/a.csv", strings.NewReader("email\na@acme.io\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory://jobs/a.csv", location)

	rc, err := files.OpenFile(ctx, "jobs/a.csv")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "email\na@acme.io\n", string(data))
}

func TestMemoryFileServiceMissingKey(t *testing.T) {
	_, err := NewMemoryFileService().OpenFile(context.Background(), "jobs/none.csv")
	assert.ErrorIs(t, err, ErrFileNotFound)
}
