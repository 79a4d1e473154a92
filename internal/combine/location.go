package combine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tanq16/stitch/internal/utils"
)

// LocationFilter maps a logical path such as "/game.arcd0" to a fetchable
// location. Relative results are resolved against the combiner's base URL.
type LocationFilter func(path string) string

// PrefixFilter prepends prefix to every path, so "/x" becomes prefix+"/x".
// An empty prefix keeps paths relative to the base URL.
func PrefixFilter(prefix string) LocationFilter {
	return func(path string) string {
		if prefix == "" {
			return strings.TrimPrefix(path, "/")
		}
		return prefix + path
	}
}

// DefaultLocationFilter serves pieces from the "split" directory.
var DefaultLocationFilter = PrefixFilter(utils.DefaultLocationPrefix)

func parseBase(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute: %s", raw)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base, nil
}

func resolveLocation(base *url.URL, location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid location %q: %w", location, err)
	}
	if u.IsAbs() || base == nil {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}
