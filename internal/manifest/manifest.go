// Package manifest describes the build targets of a split archive.
//
// A manifest is a JSON document of the form
//
//	{"content": [{"name": "game.arcd", "size": 100,
//	              "pieces": [{"name": "game.arcd0", "offset": 0}, ...]}]}
//
// Piece lengths are not part of the manifest; they are derived from the bytes
// actually transferred.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ErrInvalidManifest is returned when the body is not a usable manifest.
var ErrInvalidManifest = errors.New("manifest: invalid description")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Manifest is the ordered list of targets to build.
type Manifest struct {
	Targets []Target
}

// Target is one output artifact assembled from its pieces.
type Target struct {
	Name   string  `json:"name"`
	Size   int64   `json:"size"`
	Pieces []Piece `json:"pieces"`
}

// Piece is one independently fetched byte range of a target.
type Piece struct {
	Name   string `json:"name"`
	Offset int64  `json:"offset"`
}

type document struct {
	Content *[]Target `json:"content"`
}

// Parse decodes a manifest body. Bodies carrying a zstd frame header are
// decompressed first.
func Parse(data []byte) (*Manifest, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		decoded, err := decompress(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		data = decoded
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if doc.Content == nil {
		return nil, fmt.Errorf("%w: missing content array", ErrInvalidManifest)
	}
	return &Manifest{Targets: *doc.Content}, nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read zstd stream: %w", err)
	}
	return out, nil
}

// TotalSize is the sum of every target's declared size.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, t := range m.Targets {
		total += t.Size
	}
	return total
}

// PieceCount is the number of pieces across all targets.
func (m *Manifest) PieceCount() int {
	n := 0
	for _, t := range m.Targets {
		n += len(t.Pieces)
	}
	return n
}
