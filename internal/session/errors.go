package session

import (
	"context"
	"errors"

	"github.com/fmueller/voxrelay/internal/media"
)

// Error kinds. A classified error matches its kind with errors.Is while its
// message stays the underlying diagnostic, which is what the client sees.
var (
	ErrTransport      = errors.New("connection lost")
	ErrEmptyInput     = errors.New("empty input")
	ErrDecode         = errors.New("decode failed")
	ErrInference      = errors.New("inference failed")
	ErrSend           = errors.New("response not delivered")
	ErrUploadTooLarge = errors.New("upload exceeds maximum size")
)

type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func classify(kind, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: kind, err: err}
}

func classifyDecodeError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return classify(ErrTransport, err)
	case errors.Is(err, media.ErrEmptyInput), errors.Is(err, media.ErrEmptyOutput):
		return classify(ErrEmptyInput, err)
	default:
		return classify(ErrDecode, err)
	}
}

func classifyInferenceError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classify(ErrTransport, err)
	}
	return classify(ErrInference, err)
}

// ErrorKind returns a short label for the kind of a classified error, or ""
// for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrInference):
		return "inference"
	case errors.Is(err, ErrSend):
		return "send"
	case errors.Is(err, ErrUploadTooLarge):
		return "upload_too_large"
	default:
		return "unknown"
	}
}
