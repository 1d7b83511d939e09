package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is matched by every error caused by the counter storage.
	// Callers must fail the request instead of treating it as available quota.
	ErrStoreUnavailable = errors.New("quota store unavailable")

	// ErrInvalidLimit is returned for negative limits
	ErrInvalidLimit = errors.New("invalid limit")
)

// StoreError wraps a failed storage operation
type StoreError struct {
	Op   string
	Date string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("quota store %s for %s: %v", e.Op, e.Date, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes every StoreError match ErrStoreUnavailable
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func storeError(op string, day Period, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Date: day.Key(), Err: err}
}
