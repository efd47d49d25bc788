package paste

import (
	"github.com/pkg/errors"
)

// Kind classifies failures for callers that map them onto a transport.
type Kind int

const (
	// KindStorage covers backend failures and anything unclassified.
	KindStorage Kind = iota
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "storage"
	}
}

var (
	ErrEmptyContent   = newErr(KindValidation, "EMPTY_CONTENT", "content is empty")
	ErrTooLarge       = newErr(KindValidation, "TOO_LARGE", "content exceeds the size limit")
	ErrEmptySelection = newErr(KindValidation, "EMPTY_SELECTION", "no pastes selected")
	ErrNothingFound   = newErr(KindNotFound, "NOTHING_FOUND", "none of the selected pastes exist")
	ErrNotFound       = newErr(KindNotFound, "PASTE_NOT_FOUND", "paste not found")
	ErrIDExhausted    = newErr(KindStorage, "ID_EXHAUSTED", "could not allocate a unique paste id")
)

// Error is a classified service failure with a stable code.
type Error struct {
	Kind Kind   `json:"-"`
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func (e *Error) Error() string { return e.Msg }

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// KindOf reports the kind of err. Errors that are not a *Error, however
// wrapped, are storage failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// CodeOf returns the stable code of err, or INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}
