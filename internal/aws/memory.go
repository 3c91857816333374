package aws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryFileService keeps uploads in process memory
type MemoryFileService struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryFileService() *MemoryFileService {
	return &MemoryFileService{files: make(map[string][]byte)}
}

func (s *MemoryFileService) UploadFile(ctx context.Context, key string, file io.Reader) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.files[key] = data
	s.mu.Unlock()

	return "memory://" + key, nil
}

func (s *MemoryFileService) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.files[key]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryFileService) TestConnection(ctx context.Context) error {
	return nil
}
