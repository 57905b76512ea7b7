package escrow

import (
	"errors"
	"fmt"
)

// Precondition failures abort the call with no state change and no currency
// retained. Callers may retry with corrected inputs. Each sentinel classifies
// one guard family so transports can map them to stable error codes.
var (
	ErrUnauthorized  = errors.New("escrow: unauthorized caller")
	ErrInvalidState  = errors.New("escrow: operation not allowed in current status")
	ErrInvalidAmount = errors.New("escrow: invalid attached amount")
	ErrOverflow      = errors.New("escrow: deposit arithmetic exceeds ledger domain")
	ErrEmptyField    = errors.New("escrow: required field is empty")
	ErrNotFound      = errors.New("escrow: escrow not found")
)

// Fault marks an internal invariant violation. It still aborts atomically but
// indicates a defect in the engine or its configuration rather than a
// recoverable caller error; it is never expected in correct operation and is
// not retryable.
type Fault struct {
	Op  string
	Msg string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("escrow: fatal invariant violation in %s: %s", f.Op, f.Msg)
}

func faultf(op, format string, args ...any) error {
	return &Fault{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsFault reports whether the error carries a fatal invariant violation.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}
