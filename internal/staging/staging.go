package staging

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Stager receives combined targets by name and writes them out once the run
// is over.
type Stager interface {
	Stage(ctx context.Context, name string, data []byte) error
	// Materialize makes every staged target visible at its final location and
	// returns those locations in staging order.
	Materialize(ctx context.Context) ([]string, error)
}

// Open picks a stager for dest: s3://bucket/prefix uploads to S3, anything
// else is a local directory.
func Open(ctx context.Context, dest, profile string) (Stager, error) {
	if strings.HasPrefix(dest, "s3://") {
		return NewS3Stager(ctx, dest, profile)
	}
	return NewDirStager(dest)
}

// cleanName turns a target name into a slash separated relative path and
// refuses names that would leave the staging root.
func cleanName(name string) (string, error) {
	trimmed := strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	if trimmed == "" {
		return "", fmt.Errorf("empty target name %q", name)
	}
	cleaned := path.Clean(trimmed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("target name %q escapes the output root", name)
	}
	return cleaned, nil
}
