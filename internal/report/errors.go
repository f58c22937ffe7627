package report

import (
	"errors"
	"fmt"
)

// Sections of the text contract, used in FormatError.
const (
	SectionBestColumn = "best column"
	SectionReward     = "reward break-down"
	SectionRelations  = "top relations"
	SectionJSON       = "structured result"
)

// FormatError reports output that does not match the expected contract.
type FormatError struct {
	Section string
	Reason  string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected script output (%s): %s: %v", e.Section, e.Reason, e.Err)
	}
	return fmt.Sprintf("unexpected script output (%s): %s", e.Section, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// IsFormatError reports whether err (or anything it wraps) is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

func missing(section string) error {
	return &FormatError{Section: section, Reason: "section not found"}
}
