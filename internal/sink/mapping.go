package sink

import (
	"path"
	"strings"
)

// Mapper rewrites resolved activity paths into the namespace a backend
// sees, by ordered prefix substitution. The first matching rule wins;
// a path matching no rule passes through unchanged.
type Mapper struct {
	rules [][2]string
}

// NewMapper builds a mapper from validated [from, to] pairs.
func NewMapper(pairs [][]string) *Mapper {
	m := &Mapper{}

	for _, p := range pairs {
		if len(p) != 2 {
			continue
		}

		m.rules = append(m.rules, [2]string{p[0], p[1]})
	}

	return m
}

// Apply rewrites p through the first matching rule. A rule matches on a
// whole path segment boundary: "/GD" does not match "/GDRIVE/x".
func (m *Mapper) Apply(p string) string {
	for _, r := range m.rules {
		from, to := r[0], r[1]

		if p == from {
			return to
		}

		if strings.HasPrefix(p, from+"/") {
			return to + strings.TrimPrefix(p, from)
		}
	}

	return p
}

// parentDir is path.Dir that treats a bare name as living at the root.
func parentDir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return "/"
	}

	return d
}
