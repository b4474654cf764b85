package repository

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound matches every lookup that found no record.
var ErrNotFound = errors.New("not found")

// ErrInvalidParticipants is returned when a conversation is not between exactly two users.
var ErrInvalidParticipants = errors.New("conversation requires exactly two participants")

// NotFoundError reports a missing record of a given kind
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s exists with the identifier %s", e.Kind, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// DeserializeError reports a record with a missing or mistyped field. An
// empty Field means the record itself had the wrong shape.
type DeserializeError struct {
	Kind  string
	ID    string
	Field string
}

func (e *DeserializeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid format for %s %s", e.Kind, e.ID)
	}
	return fmt.Sprintf("unable to deserialize %q of %s %s", e.Field, e.Kind, e.ID)
}

// BatchError collects the failures of a fan-out operation
type BatchError struct {
	Errors []error
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// joinErrors returns nil, the single error, or a BatchError.
func joinErrors(errs []error) error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return &BatchError{Errors: out}
	}
}

// Notice is informational: the operation succeeded with best-effort data.
type Notice string

const (
	NoNotice                      Notice = ""
	NoticeAmountExceedsPopulation Notice = "requested amount was larger than database size"
)
