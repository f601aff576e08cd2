package services

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Status is the derived display status of a service.
type Status string

const (
	StatusDisabled  Status = "disabled"
	StatusLoaded    Status = "loaded"
	StatusReady     Status = "ready"
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusUnhealthy Status = "unhealthy"
)

// HealthStatus is the last known health of the primary container.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// RawStateUnknown is stored in State.Raw when the status query failed.
const RawStateUnknown = "unknown"

// State is a snapshot of a service's observable runtime state. Services hand
// out copies; the live value is only replaced as a whole.
type State struct {
	Enabled     bool         `json:"enabled" yaml:"enabled"`
	Started     bool         `json:"started" yaml:"started"`
	Health      HealthStatus `json:"health" yaml:"health"`
	Ready       bool         `json:"ready" yaml:"ready"`
	LastChecked time.Time    `json:"lastChecked,omitempty" yaml:"lastChecked,omitempty"`
	Raw         string       `json:"state,omitempty" yaml:"state,omitempty"`
}

// Status applies the status precedence: disabled, running, unhealthy,
// started, ready, loaded. The first matching condition wins.
func (s State) Status() Status {
	switch {
	case !s.Enabled:
		return StatusDisabled
	case s.Started && s.Health == HealthHealthy:
		return StatusRunning
	case s.Started && s.Health == HealthUnhealthy:
		return StatusUnhealthy
	case s.Started:
		return StatusStarted
	case s.Ready:
		return StatusReady
	default:
		return StatusLoaded
	}
}

// StateKey names a single State field for generic get/set access.
type StateKey string

const (
	KeyEnabled     StateKey = "enabled"
	KeyStarted     StateKey = "started"
	KeyHealth      StateKey = "health"
	KeyReady       StateKey = "ready"
	KeyLastChecked StateKey = "lastChecked"
	KeyRaw         StateKey = "state"
)

// Get returns the value stored under key.
func (s State) Get(key StateKey) (interface{}, error) {
	switch key {
	case KeyEnabled:
		return s.Enabled, nil
	case KeyStarted:
		return s.Started, nil
	case KeyHealth:
		return s.Health, nil
	case KeyReady:
		return s.Ready, nil
	case KeyLastChecked:
		return s.LastChecked, nil
	case KeyRaw:
		return s.Raw, nil
	default:
		return nil, errors.Newf("unknown state key %q", key)
	}
}

// with returns a copy of s with key set to value.
func (s State) with(key StateKey, value interface{}) (State, error) {
	ok := true
	switch key {
	case KeyEnabled:
		s.Enabled, ok = value.(bool)
	case KeyStarted:
		s.Started, ok = value.(bool)
	case KeyReady:
		s.Ready, ok = value.(bool)
	case KeyHealth:
		switch v := value.(type) {
		case HealthStatus:
			s.Health = v
		case string:
			s.Health = HealthStatus(v)
		default:
			ok = false
		}
	case KeyLastChecked:
		s.LastChecked, ok = value.(time.Time)
	case KeyRaw:
		s.Raw, ok = value.(string)
	default:
		return s, errors.Newf("unknown state key %q", key)
	}
	if !ok {
		return s, errors.Newf("invalid value %v (%T) for state key %q", value, value, key)
	}
	return s, nil
}
