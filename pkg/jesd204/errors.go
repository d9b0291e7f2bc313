package jesd204

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateDevice indicates a device name is already registered.
	ErrDuplicateDevice = errors.New("device already registered")
	// ErrNotRegistered indicates the device does not belong to the registry.
	ErrNotRegistered = errors.New("device not registered")
	// ErrDeviceInUse indicates the device is still attached to a topology.
	ErrDeviceInUse = errors.New("device in use by a topology")
	// ErrDeviceShared indicates the device is already part of another topology.
	ErrDeviceShared = errors.New("device already attached to another topology")
	// ErrTopologyActive indicates a bring-up is in progress on the topology.
	ErrTopologyActive = errors.New("topology has an active bring-up")
	// ErrTopologyRemoved indicates the topology was removed.
	ErrTopologyRemoved = errors.New("topology removed")
	// ErrReentrant indicates the driver was called from inside a stage callback.
	ErrReentrant = errors.New("fsm called from a stage callback")
	// ErrNoSysrefProvider indicates no device in the topology can issue SYSREF.
	ErrNoSysrefProvider = errors.New("no sysref provider")
	// ErrSysrefMethod indicates the provider can't issue SYSREF the way a
	// link requests it.
	ErrSysrefMethod = errors.New("sysref method not supported by provider")
	// ErrLinkFrozen indicates the link is running and its parameters are locked.
	ErrLinkFrozen = errors.New("link parameters frozen")
	// ErrInvalidLinkParams indicates link parameters can't produce a rate.
	ErrInvalidLinkParams = errors.New("invalid link parameters")
)

// NoLink is the LinkID reported for per-device units.
const NoLink = -1

// ConfigError reports an invalid topology or device description.
type ConfigError struct {
	Reason string
	Device string
	LinkID int
	Err    error
}

// Error implements error.
func (e *ConfigError) Error() string {
	msg := "topology"
	if e.Device != "" {
		msg += ": " + e.Device
	}
	if e.LinkID != NoLink {
		msg += fmt.Sprintf(": link %d", e.LinkID)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(dev string, linkID int, reason string, args ...interface{}) *ConfigError {
	return &ConfigError{Device: dev, LinkID: linkID, Reason: fmt.Sprintf(reason, args...)}
}

// StageError reports a failing stage callback.
type StageError struct {
	Stage  Stage
	Reason Reason
	Device string
	LinkID int
	Err    error
}

// Error implements error.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s[%s] %s", e.Stage, e.Reason, e.Device)
	if e.LinkID != NoLink {
		msg += fmt.Sprintf(" link %d", e.LinkID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the callback error.
func (e *StageError) Unwrap() error { return e.Err }

// LinkConflictError reports a locked link field that differs between two
// descriptions of the same link.
type LinkConflictError struct {
	LinkID uint
	Field  string
	Dst    interface{}
	Src    interface{}
}

// Error implements error.
func (e *LinkConflictError) Error() string {
	return fmt.Sprintf("link %d: locked field %s differs: %v != %v", e.LinkID, e.Field, e.Dst, e.Src)
}

// RetryExhaustedError indicates the retry budget ran out while a stage kept deferring.
type RetryExhaustedError struct {
	Stage  Stage
	Passes int
}

// Error implements error.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s still deferred after %d passes", e.Stage, e.Passes)
}
