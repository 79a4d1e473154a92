package manifest

import (
	"errors"
	"fmt"
)

// Issue is a single problem found by Validate.
type Issue struct {
	Target string
	Piece  string
	Reason string
}

func (i Issue) String() string {
	if i.Piece == "" {
		return fmt.Sprintf("%s: %s", i.Target, i.Reason)
	}
	return fmt.Sprintf("%s/%s: %s", i.Target, i.Piece, i.Reason)
}

// Validate reports structural problems that can be detected before any piece
// is fetched. It cannot check piece lengths, which only exist after transfer.
func (m *Manifest) Validate() []Issue {
	var issues []Issue
	seen := make(map[string]bool)
	for _, t := range m.Targets {
		if t.Name == "" {
			issues = append(issues, Issue{Target: "<unnamed>", Reason: "empty target name"})
		} else if seen[t.Name] {
			issues = append(issues, Issue{Target: t.Name, Reason: "duplicate target name"})
		}
		seen[t.Name] = true
		if t.Size < 0 {
			issues = append(issues, Issue{Target: t.Name, Reason: "negative size"})
		}
		if len(t.Pieces) == 0 && t.Size != 0 {
			issues = append(issues, Issue{Target: t.Name, Reason: "no pieces for non-empty target"})
		}
		for i, p := range t.Pieces {
			switch {
			case p.Name == "":
				issues = append(issues, Issue{Target: t.Name, Piece: fmt.Sprintf("#%d", i), Reason: "empty piece name"})
			case p.Offset < 0:
				issues = append(issues, Issue{Target: t.Name, Piece: p.Name, Reason: "negative offset"})
			case p.Offset >= t.Size && t.Size > 0:
				issues = append(issues, Issue{Target: t.Name, Piece: p.Name, Reason: "offset beyond target size"})
			}
			if i > 0 && p.Offset <= t.Pieces[i-1].Offset {
				issues = append(issues, Issue{Target: t.Name, Piece: p.Name, Reason: "offsets not strictly ascending"})
			}
		}
	}
	return issues
}

// Err folds the issues into one error, or nil when there are none.
func Err(issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	errs := make([]error, 0, len(issues))
	for _, i := range issues {
		errs = append(errs, errors.New(i.String()))
	}
	return fmt.Errorf("%w: %w", ErrInvalidManifest, errors.Join(errs...))
}
