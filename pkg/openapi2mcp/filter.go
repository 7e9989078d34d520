package openapi2mcp

import (
	"regexp"
	"strings"
)

// PathFilter matches operation paths against whitelist or blacklist entries.
// An entry without placeholders matches as a prefix. An entry such as
// "/users/{id}" matches any single segment in place of the placeholder,
// followed by nothing or a further "/...".
type PathFilter struct {
	prefixes []string
	patterns []*regexp.Regexp
}

// NewPathFilter compiles the given entries. Empty entries are ignored.
func NewPathFilter(entries []string) (*PathFilter, error) {
	f := &PathFilter{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !placeholder.MatchString(entry) {
			f.prefixes = append(f.prefixes, entry)
			continue
		}
		re, err := regexp.Compile(placeholderPattern(entry))
		if err != nil {
			return nil, err
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func placeholderPattern(entry string) string {
	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range placeholder.FindAllStringIndex(entry, -1) {
		b.WriteString(regexp.QuoteMeta(entry[last:loc[0]]))
		b.WriteString(`[^/]+`)
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(entry[last:]))
	b.WriteString(`($|/.*)$`)
	return b.String()
}

// Empty reports whether the filter has no entries.
func (f *PathFilter) Empty() bool {
	return f == nil || (len(f.prefixes) == 0 && len(f.patterns) == 0)
}

// Match reports whether path matches at least one entry.
func (f *PathFilter) Match(path string) bool {
	if f == nil {
		return false
	}
	for _, prefix := range f.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, re := range f.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
