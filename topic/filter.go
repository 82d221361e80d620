package topic

import (
	"fmt"
	"regexp"
	"strings"
)

// A filter is slash-separated levels where + matches exactly one level and a
// trailing # matches any remainder.
var filterRegexp = regexp.MustCompile(`^(([^+#]*|\+)(/([^+#]*|\+))*(/#)?|#)$`)

// Filter is a subscription pattern over channel names.
type Filter struct {
	Value string `json:"value" mapstructure:"value"`
}

func NewFilter(value string) (*Filter, error) {
	if value == "" {
		return nil, fmt.Errorf("channel filter cannot be empty")
	}

	if len(value) > maxLength {
		return nil, fmt.Errorf("channel filter %q cannot have more than %d bytes", value, maxLength)
	}

	if !filterRegexp.MatchString(value) {
		return nil, fmt.Errorf("channel filter %q format is invalid", value)
	}

	return &Filter{value}, nil
}

// Match reports whether name falls under the filter. A wildcard in the first
// level never matches server-owned ($-prefixed) names.
func (f *Filter) Match(name *Name) bool {
	levels := strings.Split(name.Value, "/")
	pattern := strings.Split(f.Value, "/")

	if strings.HasPrefix(levels[0], "$") && (pattern[0] == "#" || pattern[0] == "+") {
		return false
	}

	for i, p := range pattern {
		if p == "#" {
			return true
		}
		if i >= len(levels) {
			return false
		}
		if p != "+" && p != levels[i] {
			return false
		}
	}

	return len(pattern) == len(levels)
}
