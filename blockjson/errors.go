package blockjson

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Format errors. Everything except ErrProtocol comes back as a *FormatError
// naming the offending field; use errors.Is to check the kind.
var (
	ErrMissingField    = errors.New("missing field")
	ErrMalformedHex    = errors.New("malformed hex")
	ErrCountMismatch   = errors.New("count mismatch")
	ErrNonIntegerValue = errors.New("value is not a whole number of base units")
	ErrInvalidValue    = errors.New("invalid value")
	ErrInvalidDocument = errors.New("invalid json document")
	ErrProtocol        = errors.New("block rejected by wire decoder")
)

// FormatError is a problem with one field of a JSON document.
type FormatError struct {
	Path   string // e.g. tx[1].in[0].prev_out.hash
	Err    error  // one of the sentinel errors above
	Detail string
}

func (e *FormatError) Error() string {
	msg := e.Err.Error()
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(path string, kind error, format string, args ...interface{}) error {
	fe := &FormatError{Path: path, Err: kind}
	if format != "" {
		fe.Detail = fmt.Sprintf(format, args...)
	}
	return fe
}

// IsFormatError reports whether err is a problem with the input document, as
// opposed to a bug or an I/O failure.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe) || errors.Is(err, ErrProtocol)
}
