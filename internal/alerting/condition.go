// Package alerting evaluates alert policies against monitor history and
// emits alert-trigger events with per-policy-per-monitor cooldown.
//
// Conditions are a small closed set, not an expression language. They are
// validated at the boundary; a malformed condition never reaches the
// evaluator loop.
package alerting

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCondition is returned when a policy condition falls outside the
// recognized set. It is surfaced at policy creation time as a 400.
var ErrInvalidCondition = errors.New("invalid alert condition")

// WindowCondition configures failuresInWindow: at least Count failures
// within the trailing WindowMinutes, regardless of interleaved successes.
type WindowCondition struct {
	Count         int `json:"count"`
	WindowMinutes int `json:"windowMinutes"`
}

// Condition is the tagged union of supported policy conditions. Exactly one
// field may be set; an empty condition is valid and never fires.
type Condition struct {
	ConsecutiveFailures  *int             `json:"consecutiveFailures,omitempty"`
	ConsecutiveSuccesses *int             `json:"consecutiveSuccesses,omitempty"`
	FailuresInWindow     *WindowCondition `json:"failuresInWindow,omitempty"`

	// DegradedDuration is in seconds, measured from the status-transition
	// timestamp rather than individual results.
	DegradedDuration *int `json:"degradedDuration,omitempty"`
}

// IsEmpty reports whether no condition field is set.
func (c *Condition) IsEmpty() bool {
	return c.ConsecutiveFailures == nil &&
		c.ConsecutiveSuccesses == nil &&
		c.FailuresInWindow == nil &&
		c.DegradedDuration == nil
}

// Kind returns a short name for the set condition, for logging and alert
// reasons. Empty conditions return "".
func (c *Condition) Kind() string {
	switch {
	case c.ConsecutiveFailures != nil:
		return "consecutiveFailures"
	case c.ConsecutiveSuccesses != nil:
		return "consecutiveSuccesses"
	case c.FailuresInWindow != nil:
		return "failuresInWindow"
	case c.DegradedDuration != nil:
		return "degradedDuration"
	}
	return ""
}

// ParseCondition decodes and validates a policy's condition JSON. An empty
// string decodes to the empty condition.
func ParseCondition(raw string) (*Condition, error) {
	c := &Condition{}
	if raw == "" {
		return c, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}

	if err := ValidateCondition(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidateCondition enforces the tagged-union shape: at most one condition
// set, with positive parameters.
func ValidateCondition(c *Condition) error {
	set := 0
	if c.ConsecutiveFailures != nil {
		set++
		if *c.ConsecutiveFailures < 1 {
			return fmt.Errorf("%w: consecutiveFailures must be >= 1", ErrInvalidCondition)
		}
	}
	if c.ConsecutiveSuccesses != nil {
		set++
		if *c.ConsecutiveSuccesses < 1 {
			return fmt.Errorf("%w: consecutiveSuccesses must be >= 1", ErrInvalidCondition)
		}
	}
	if c.FailuresInWindow != nil {
		set++
		if c.FailuresInWindow.Count < 1 {
			return fmt.Errorf("%w: failuresInWindow.count must be >= 1", ErrInvalidCondition)
		}
		if c.FailuresInWindow.WindowMinutes < 1 {
			return fmt.Errorf("%w: failuresInWindow.windowMinutes must be >= 1", ErrInvalidCondition)
		}
	}
	if c.DegradedDuration != nil {
		set++
		if *c.DegradedDuration < 1 {
			return fmt.Errorf("%w: degradedDuration must be >= 1 second", ErrInvalidCondition)
		}
	}

	if set > 1 {
		return fmt.Errorf("%w: exactly one condition type may be set", ErrInvalidCondition)
	}
	return nil
}
