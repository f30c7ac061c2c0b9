package pipeline

import "errors"

// ErrInvoiceNotProcessable guards against double-processing: the invoice is
// not in an UPLOADED/UPLOADED_WITH_OCR status.
var ErrInvoiceNotProcessable = errors.New("invoice is not in a processable status")

// NonRetriableError marks orchestration failures that must terminate
// immediately without consuming retry budget: invoice missing or in the
// wrong state, duplicate active job.
type NonRetriableError struct {
	Err error
}

func (e *NonRetriableError) Error() string { return e.Err.Error() }
func (e *NonRetriableError) Unwrap() error { return e.Err }

// NonRetriable wraps err so the event runtime will not retry it.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetriableError{Err: err}
}

// IsNonRetriable reports whether err is classified non-retriable. Handed to
// the event bus as its permanent-error predicate.
func IsNonRetriable(err error) bool {
	var nr *NonRetriableError
	return errors.As(err, &nr)
}
