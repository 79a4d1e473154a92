package staging

import (
	"context"
	"sync"
)

// MemoryStager keeps staged targets in a map.
type MemoryStager struct {
	mu    sync.Mutex
	order []string
	files map[string][]byte
}

func NewMemoryStager() *MemoryStager {
	return &MemoryStager{files: make(map[string][]byte)}
}

func (s *MemoryStager) Stage(ctx context.Context, name string, data []byte) error {
	rel, err := cleanName(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[rel]; !ok {
		s.order = append(s.order, rel)
	}
	s.files[rel] = data
	return nil
}

func (s *MemoryStager) Materialize(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// File returns the bytes staged under name.
func (s *MemoryStager) File(name string) ([]byte, bool) {
	rel, err := cleanName(name)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[rel]
	return data, ok
}
