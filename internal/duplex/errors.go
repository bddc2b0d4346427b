package duplex

import (
	"errors"
	"strconv"
)

// ErrBadCursor indicates a resume cursor that is not a decimal event id.
var ErrBadCursor = errors.New("invalid resume cursor")

// ValidateCursor checks a resume cursor's format without touching any
// channel state, so callers can reject it before committing a response.
func ValidateCursor(cursor string) error {
	if cursor == "" {
		return nil
	}
	if _, err := strconv.ParseUint(cursor, 10, 64); err != nil {
		return ErrBadCursor
	}
	return nil
}
