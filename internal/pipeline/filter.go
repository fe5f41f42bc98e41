package pipeline

import (
	"fmt"
	"regexp"
)

// Filter decides whether an activity qualifies for dispatch. It is a pure
// predicate over the resolved activity: action allow-list, folder skip,
// include patterns, then ignore patterns, evaluated in that order.
//
// Pattern matching is case-insensitive and unanchored (substring search).
// An empty include list matches everything.
type Filter struct {
	actions        map[Action]bool
	ignoreFolder   bool
	patterns       []*regexp.Regexp
	ignorePatterns []*regexp.Regexp
}

// NewFilter compiles the pattern lists. Patterns are compiled with (?i);
// a malformed pattern is a configuration error surfaced at startup.
func NewFilter(actions []string, ignoreFolder bool, patterns, ignorePatterns []string) (*Filter, error) {
	allowed := make(map[Action]bool, len(actions))
	for _, a := range actions {
		allowed[Action(a)] = true
	}

	compile := func(raw []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(raw))

		for _, p := range raw {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("pipeline: pattern %q: %w", p, err)
			}

			out = append(out, re)
		}

		return out, nil
	}

	include, err := compile(patterns)
	if err != nil {
		return nil, err
	}

	ignore, err := compile(ignorePatterns)
	if err != nil {
		return nil, err
	}

	return &Filter{
		actions:        allowed,
		ignoreFolder:   ignoreFolder,
		patterns:       include,
		ignorePatterns: ignore,
	}, nil
}

// Allow reports whether the activity qualifies, with a short reason for
// the drop when it does not. Reasons are for debug logging and counters,
// not errors: a filter reject is normal operation.
func (f *Filter) Allow(act *Activity) (bool, string) {
	if !f.actions[act.Action] {
		return false, "action not allowed"
	}

	if f.ignoreFolder && act.IsFolder {
		return false, "folder"
	}

	if len(f.patterns) > 0 && !matchAny(f.patterns, act.ResolvedPath) {
		return false, "no pattern match"
	}

	if matchAny(f.ignorePatterns, act.ResolvedPath) {
		return false, "ignore pattern match"
	}

	return true, ""
}

func matchAny(patterns []*regexp.Regexp, path string) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}

	return false
}
