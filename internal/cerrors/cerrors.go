// Package cerrors defines the sentinel error kinds surfaced by the core
// and the wrap helpers used to attach operation context to them.
package cerrors

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers use errors.Is against these; the wrap
// helpers below attach operation-specific context with fmt.Errorf's %w.
var (
	// ErrInvalidName indicates a database/branch/tenant name failed C1 validation.
	ErrInvalidName = errors.New("invalid name")

	// ErrNotFound indicates the requested database/branch/tenant/change does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a name collision on a unique constraint.
	ErrAlreadyExists = errors.New("already exists")

	// ErrProtectedEntity indicates an attempt to delete or rename main/__empty__.
	ErrProtectedEntity = errors.New("protected entity")

	// ErrMaintenanceInProgress indicates a branch is locked for maintenance by another actor.
	ErrMaintenanceInProgress = errors.New("maintenance in progress")

	// ErrMergeConflict indicates detect_conflicts found overlapping entity edits.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrMergeRefused indicates a non-fast-forward merge into main without force.
	ErrMergeRefused = errors.New("merge refused")

	// ErrSchemaError indicates DDL failed while applying a change to a tenant.
	ErrSchemaError = errors.New("schema error")

	// ErrSQLValidation indicates a disallowed operation in a user-supplied query.
	ErrSQLValidation = errors.New("sql validation error")

	// ErrEncryption indicates the registered EncryptionProvider failed.
	ErrEncryption = errors.New("encryption error")

	// ErrIO indicates a filesystem failure unrelated to SQLite itself.
	ErrIO = errors.New("io error")
)

// Wrap attaches op context to err, translating sql.ErrNoRows to ErrNotFound
// so callers can uniformly errors.Is(err, cerrors.ErrNotFound).
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wrapf is Wrap with a formatted operation description.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(fmt.Sprintf(format, args...), err)
}

// Is reports whether err wraps target via errors.Is. Kept as a thin
// helper so call sites read cerrors.Is(err, cerrors.ErrNotFound) rather
// than importing errors directly in every package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Of wraps err with kind if it is non-nil and does not already wrap kind.
func Of(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
