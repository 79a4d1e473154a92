package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/stitch/internal/utils"
)

// DirStager writes each target to a part file under its own temp directory
// and renames it into place on Materialize.
type DirStager struct {
	root    string
	tempDir string

	mu     sync.Mutex
	staged []stagedFile
}

type stagedFile struct {
	name string
	temp string
}

func NewDirStager(root string) (*DirStager, error) {
	if root == "" {
		root = "."
	}
	tempDir := filepath.Join(root, utils.TempDirName, uuid.NewString())
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating temp directory: %v", err)
	}
	return &DirStager{root: root, tempDir: tempDir}, nil
}

func (s *DirStager) Stage(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := cleanName(name)
	if err != nil {
		return err
	}
	temp := filepath.Join(s.tempDir, filepath.FromSlash(rel)+".part")
	if err := os.MkdirAll(filepath.Dir(temp), 0755); err != nil {
		return fmt.Errorf("error creating directory: %v", err)
	}
	if err := os.WriteFile(temp, data, 0644); err != nil {
		return fmt.Errorf("error writing part file: %v", err)
	}
	log.Debug().Str("op", "staging/dir").Msgf("Staged %s (%s)", rel, utils.FormatBytes(uint64(len(data))))
	s.mu.Lock()
	s.staged = append(s.staged, stagedFile{name: rel, temp: temp})
	s.mu.Unlock()
	return nil
}

func (s *DirStager) Materialize(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	staged := s.staged
	s.staged = nil
	s.mu.Unlock()

	outputs := make([]string, 0, len(staged))
	for _, f := range staged {
		if err := ctx.Err(); err != nil {
			return outputs, err
		}
		dest := filepath.Join(s.root, filepath.FromSlash(f.name))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return outputs, fmt.Errorf("error creating directory: %v", err)
		}
		if err := os.Rename(f.temp, dest); err != nil {
			return outputs, fmt.Errorf("error moving %s into place: %v", f.name, err)
		}
		outputs = append(outputs, dest)
	}
	if err := os.RemoveAll(s.tempDir); err != nil {
		log.Warn().Str("op", "staging/dir").Msgf("Failed to remove temp directory: %v", err)
	}
	// Other stagers may still be using the shared parent.
	os.Remove(filepath.Dir(s.tempDir))
	log.Info().Str("op", "staging/dir").Msgf("Materialized %d files under %s", len(outputs), s.root)
	return outputs, nil
}
