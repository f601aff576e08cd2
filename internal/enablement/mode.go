// Package enablement holds the tri-state enablement mode of a service and the
// resolver that turns modes into effective enabled/disabled decisions.
package enablement

import (
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Mode is the explicit enablement setting of a service.
type Mode string

const (
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"
	ModeAuto Mode = "auto"
)

// ParseMode accepts on/off/auto plus the boolean spellings used in project files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "enable", "enabled", "yes":
		return ModeOn, nil
	case "off", "false", "disable", "disabled", "no":
		return ModeOff, nil
	case "auto":
		return ModeAuto, nil
	default:
		return "", errors.Newf("invalid enablement mode %q (want on, off or auto)", s)
	}
}

// IsValid reports whether m is one of the known modes.
func (m Mode) IsValid() bool {
	return m == ModeOn || m == ModeOff || m == ModeAuto
}

// MarshalYAML writes on/off as booleans and auto as the string "auto".
func (m Mode) MarshalYAML() (interface{}, error) {
	switch m {
	case ModeOn:
		return true, nil
	case ModeAuto:
		return string(ModeAuto), nil
	default:
		return false, nil
	}
}

// UnmarshalYAML accepts `true`, `false`, `auto` and the ParseMode spellings.
func (m *Mode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: enablement mode must be a scalar", node.Line)
	}
	parsed, err := ParseMode(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*m = parsed
	return nil
}
