package billing

import "errors"

var (
	// ErrAmountExceedsDue means a bulk payment asked for more than the
	// patient currently owes in total. Payments posted earlier in the same
	// allocation are not rolled back.
	ErrAmountExceedsDue = errors.New("amount exceeds total due")

	// ErrNoValidRows means an adjustment bill had no usable (label, amount)
	// rows after filtering.
	ErrNoValidRows = errors.New("no valid adjustment rows")
)
