package step

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matches reports whether the step is selected by pattern.
//
// Three forms are accepted, tried in order:
//  1. exact URI equality,
//  2. a doublestar glob over the URI ("garden/demography/**",
//     "*/who/*/flu_*"),
//  3. plain substring containment ("demography" selects every step whose
//     URI mentions it).
//
// An invalid glob simply falls through to the substring check; patterns are
// user input and never abort a run on their own.
func (id ID) Matches(pattern string) bool {
	if pattern == "" {
		return false
	}
	uri := id.String()
	if pattern == uri {
		return true
	}
	if ok, err := doublestar.Match(pattern, uri); err == nil && ok {
		return true
	}
	return strings.Contains(uri, pattern)
}
