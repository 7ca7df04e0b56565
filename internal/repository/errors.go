package repository

import (
	"errors"
	"fmt"

	"cloudscope/internal/domain"
)

var (
	// ErrNotFound is returned when an entity expected to exist is absent
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness invariant would be violated
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalid is returned when an entity fails validation
	ErrInvalid = domain.ErrValidation
)

// Error carries the operation and entity context of a repository failure
type Error struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Entity)
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap annotates err with operation context. A nil err returns nil and an
// existing *Error with the same op is returned unchanged when id is empty or
// matches.
func Wrap(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) && re.Op == op && (id == "" || re.ID == id) {
		return err
	}
	return &Error{Op: op, Entity: entity, ID: id, Err: err}
}

// NotFound builds an ErrNotFound failure
func NotFound(op, entity, id string) error {
	return &Error{Op: op, Entity: entity, ID: id, Err: ErrNotFound}
}

// Duplicate builds an ErrDuplicate failure
func Duplicate(op, entity, id string) error {
	return &Error{Op: op, Entity: entity, ID: id, Err: ErrDuplicate}
}

// Invalid builds an ErrInvalid failure with a reason
func Invalid(op, entity, id, reason string) error {
	return &Error{Op: op, Entity: entity, ID: id, Err: fmt.Errorf("%w: %s", ErrInvalid, reason)}
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicate reports whether err wraps ErrDuplicate
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }

// IsInvalid reports whether err wraps ErrInvalid
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalid) }
