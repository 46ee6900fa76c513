package host

import (
	"errors"
	"fmt"
)

// Sentinel errors. All failures in this package are ordinary return-path
// errors; none of them should terminate the process.
var (
	// ErrAlreadyStarted means an instance with the same identity is live.
	ErrAlreadyStarted = errors.New("instance already started")

	// ErrNotStarted means no live instance exists for the identity. It is
	// the same condition the dispatch path reports for an unregistered
	// identity.
	ErrNotStarted = errors.New("instance not started")

	// ErrMissingAdapter means an adapter slot did not resolve to a
	// concrete provider after the configuration merge.
	ErrMissingAdapter = errors.New("adapter not configured")

	// ErrMalformedOverride means an external override targeted an unknown
	// adapter slot.
	ErrMalformedOverride = errors.New("malformed configuration override")

	// ErrInvalidIdentity means the caller-supplied identity is not usable.
	// It is reported before any registry interaction.
	ErrInvalidIdentity = errors.New("invalid instance identity")

	// ErrConsistencyTimeout means the requested consistency guarantee was
	// not met within the dispatch timeout. Expected and recoverable.
	ErrConsistencyTimeout = errors.New("consistency timeout")

	// ErrUnregisteredCommand means the router has no handler for the
	// dispatched command.
	ErrUnregisteredCommand = errors.New("unregistered command")
)

// AlreadyStartedError reports a duplicate start for an identity.
type AlreadyStartedError struct {
	Identity string
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("instance %q already started", e.Identity)
}

func (e *AlreadyStartedError) Unwrap() error { return ErrAlreadyStarted }

// NotStartedError reports a lookup or dispatch against an identity with no
// live registry entry.
type NotStartedError struct {
	Identity string
}

func (e *NotStartedError) Error() string {
	return fmt.Sprintf("instance %q not started", e.Identity)
}

func (e *NotStartedError) Unwrap() error { return ErrNotStarted }

// ConfigError reports a configuration resolution failure: a missing adapter
// slot, a malformed override, or a rejecting runtime hook.
type ConfigError struct {
	Application string
	Slot        Slot // empty unless the failure is slot-specific
	Err         error
}

func (e *ConfigError) Error() string {
	if e.Slot != "" {
		return fmt.Sprintf("resolve %q: slot %q: %v", e.Application, e.Slot, e.Err)
	}
	return fmt.Sprintf("resolve %q: %v", e.Application, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StartError reports a process-tree start failure. The registry entry has
// already been rolled back when a StartError is returned.
type StartError struct {
	Identity string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start instance %q: %v", e.Identity, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// IsAlreadyStarted reports whether err is a duplicate-start failure.
func IsAlreadyStarted(err error) bool { return errors.Is(err, ErrAlreadyStarted) }

// IsNotStarted reports whether err means no live instance exists.
func IsNotStarted(err error) bool { return errors.Is(err, ErrNotStarted) }

// IsConfigError reports whether err is a configuration resolution failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsStartError reports whether err is a process-tree start failure.
func IsStartError(err error) bool {
	var se *StartError
	return errors.As(err, &se)
}

// IsConsistencyTimeout reports whether err is a consistency timeout.
func IsConsistencyTimeout(err error) bool { return errors.Is(err, ErrConsistencyTimeout) }

// IsUnregisteredCommand reports whether err means the router has no handler
// for the command.
func IsUnregisteredCommand(err error) bool { return errors.Is(err, ErrUnregisteredCommand) }
