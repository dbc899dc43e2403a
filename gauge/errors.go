package gauge

import "errors"

var (
	// ErrInvalidInput is the parent of every rejected Record call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidMetricName is returned for empty or blank metric names.
	ErrInvalidMetricName = wrapInput(ErrInvalidInput, "metric name must not be empty")

	// ErrNonFiniteValue is returned for NaN and infinite values.
	ErrNonFiniteValue = wrapInput(ErrInvalidInput, "value must be a finite number")

	// ErrUnknownMetric means the metric was never recorded.
	ErrUnknownMetric = errors.New("metric not found")

	// ErrNoData means the metric exists but has no samples in the window.
	ErrNoData = errors.New("no data in range")
)

// inputError carries a message while unwrapping to ErrInvalidInput.
type inputError struct {
	parent error
	msg    string
}

func (e *inputError) Error() string { return e.parent.Error() + ": " + e.msg }
func (e *inputError) Unwrap() error { return e.parent }

func wrapInput(parent error, msg string) error {
	return &inputError{parent: parent, msg: msg}
}
