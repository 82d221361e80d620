// Package topic implements channel names and the MQTT-style subscription
// filters used to route published events to sessions.
package topic

import (
	"fmt"
	"regexp"
	"strings"
)

const maxLength = 65535

var nameRegexp = regexp.MustCompile(`^[^#+]+$`)

// Name identifies a channel events are published on. Names use
// slash-separated levels and must not contain wildcard characters.
type Name struct {
	Value string `json:"value" mapstructure:"value"`
}

func NewName(value string) (*Name, error) {
	if value == "" {
		return nil, fmt.Errorf("channel name cannot be empty")
	}

	if len(value) > maxLength {
		return nil, fmt.Errorf("channel name %q cannot have more than %d bytes", value, maxLength)
	}

	if !nameRegexp.MatchString(value) {
		return nil, fmt.Errorf("channel name %q format is invalid", value)
	}

	return &Name{value}, nil
}

// IsServerOwned reports whether the name lives in the server-owned,
// $-prefixed space.
func (n *Name) IsServerOwned() bool {
	return strings.HasPrefix(n.Value, "$")
}
