package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is matched by every DecodeError.
var ErrMalformed = errors.New("malformed poll message")

// DecodeError reports why an envelope could not be parsed. Receivers drop the
// envelope and carry on.
type DecodeError struct {
	Message string // PollMessage or PollVote
	Offset  int
	Field   string
	Err     error
}

func newDecodeError(message string, offset int, field string, err error) *DecodeError {
	return &DecodeError{Message: message, Offset: offset, Field: field, Err: err}
}

func wireTypeError(message string, offset int, num protowire.Number, typ protowire.Type) *DecodeError {
	return newDecodeError(message, offset, fieldName(num), fmt.Errorf("unexpected wire type %d", typ))
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s at offset %d: %v", e.Message, e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}
