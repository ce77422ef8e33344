// Package apperr defines the error taxonomy shared by the board components.
//
// Only ValidationError and PersistenceError ever reach callers of mutation
// primitives. EphemeralChannelError is logged and dropped, StaleReferenceError
// turns the operation into a logged no-op.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrTransformLocked is returned when another user holds the transform lock.
	ErrTransformLocked = errors.New("entity is being transformed by another user")
	// ErrDefaultLayer rejects deleting or renaming the default layer.
	ErrDefaultLayer = errors.New("default layer cannot be deleted or renamed")
	// ErrNotEditable is returned for locked entities or entities on locked layers.
	ErrNotEditable = errors.New("entity is locked")
	ErrNoSelection = errors.New("nothing selected")
)

// ValidationError is returned before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistenceError wraps a rejected durable read or write.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError, nil stays nil.
func Persistence(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, ID: id, Err: err}
}

// EphemeralChannelError wraps a failed publish/remove on the ephemeral channel.
type EphemeralChannelError struct {
	Path string
	Err  error
}

func (e *EphemeralChannelError) Error() string {
	return fmt.Sprintf("ephemeral channel %s: %v", e.Path, e.Err)
}

func (e *EphemeralChannelError) Unwrap() error { return e.Err }

// Ephemeral wraps err as an EphemeralChannelError, nil stays nil.
func Ephemeral(path string, err error) error {
	if err == nil {
		return nil
	}
	return &EphemeralChannelError{Path: path, Err: err}
}

// StaleReferenceError reports an operation on an entity or layer that no longer exists.
type StaleReferenceError struct {
	Kind string
	ID   string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("%s %s no longer exists", e.Kind, e.ID)
}

// StaleEntity builds a StaleReferenceError for an entity id.
func StaleEntity(id string) error {
	return &StaleReferenceError{Kind: "entity", ID: id}
}

// StaleLayer builds a StaleReferenceError for a layer id.
func StaleLayer(id string) error {
	return &StaleReferenceError{Kind: "layer", ID: id}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsStale reports whether err is a StaleReferenceError.
func IsStale(err error) bool {
	var se *StaleReferenceError
	return errors.As(err, &se)
}
