package common

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to render a specific message.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidFormat
	KindDisallowedExtension
	KindFileTooLarge
	KindImageTooSmall
	KindDuplicateName
	KindNotFound
	KindInput
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindInvalidFormat:       "invalid_format",
	KindDisallowedExtension: "disallowed_extension",
	KindFileTooLarge:        "file_too_large",
	KindImageTooSmall:       "image_too_small",
	KindDuplicateName:       "duplicate_name",
	KindNotFound:            "not_found",
	KindInput:               "invalid_input",
	KindStorage:             "storage",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsValidation reports whether the kind is one of the image validation failures.
func (k Kind) IsValidation() bool {
	switch k {
	case KindInvalidFormat, KindDisallowedExtension, KindFileTooLarge, KindImageTooSmall, KindDuplicateName:
		return true
	}
	return false
}

// Error is the error type returned across the domain boundary.
// Message is safe to show to the person who submitted the request.
type Error struct {
	Kind    Kind
	Message string

	// Size is set for KindFileTooLarge.
	Size int64
	// Width and Height are set for KindImageTooSmall.
	Width  int
	Height int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels of the same kind, so errors.Is(err, ErrNotFound) works
// for any not found error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrInvalidFormat       = &Error{Kind: KindInvalidFormat}
	ErrDisallowedExtension = &Error{Kind: KindDisallowedExtension}
	ErrFileTooLarge        = &Error{Kind: KindFileTooLarge}
	ErrImageTooSmall       = &Error{Kind: KindImageTooSmall}
	ErrDuplicateName       = &Error{Kind: KindDuplicateName}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInput               = &Error{Kind: KindInput}
	ErrStorage             = &Error{Kind: KindStorage}
)

func NewInputError(format string, args ...any) *Error {
	return &Error{Kind: KindInput, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewStorageError wraps a failure of the record store or the filesystem.
func NewStorageError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
