package worker

import (
	"errors"
	"fmt"
)

// quarantineError marks an action failure as a data problem rather than a
// transient one. The stage records the reason on the bundle and parks it for
// an operator instead of letting it cycle through the queue.
type quarantineError struct {
	reason string
}

func (e *quarantineError) Error() string {
	return e.reason
}

// Quarantine builds an action error that parks the work item with the given
// reason. The stage prefixes the reason with its own name.
func Quarantine(reason string) error {
	return &quarantineError{reason: reason}
}

// Quarantinef is Quarantine with formatting.
func Quarantinef(format string, args ...any) error {
	return &quarantineError{reason: fmt.Sprintf(format, args...)}
}

// IsQuarantine reports whether an action error asked for quarantine.
func IsQuarantine(err error) bool {
	var qe *quarantineError
	return errors.As(err, &qe)
}
