package syntax

import (
	"errors"
	"fmt"
)

// MalformedStreamError reports a stream that cannot form a tree: unbalanced
// or mismatched brackets, an operator without operands, or an unknown
// function name on a closer. Index is the offending token (-1 for end of
// stream).
type MalformedStreamError struct {
	Index int
	Msg   string
}

func (e *MalformedStreamError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed stream at end: %s", e.Msg)
	}
	return fmt.Sprintf("malformed stream at token %d: %s", e.Index, e.Msg)
}

// IsMalformed returns true if err is (or wraps) a MalformedStreamError.
func IsMalformed(err error) bool {
	var me *MalformedStreamError
	return errors.As(err, &me)
}

func malformed(index int, format string, args ...any) error {
	return &MalformedStreamError{Index: index, Msg: fmt.Sprintf(format, args...)}
}
