package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrAlreadyImported is matched by every AlreadyImportedError
var ErrAlreadyImported = stderrors.New("invoice already imported")

// Reasons an import request turned into a no-op
const (
	ReasonImported  = "imported"
	ReasonCancelled = "cancelled"
)

// AlreadyImportedError is returned when a ledger import has nothing to do: the invoice
// is already linked to a ledger entry, or the remote document was cancelled.
// It is an outcome, not a failure; callers check it with IsNoOp.
type AlreadyImportedError struct {
	InvoiceID string
	LedgerID  string
	Reason    string
}

func (e *AlreadyImportedError) Error() string {
	if e.Reason == ReasonCancelled {
		return fmt.Sprintf("invoice %s is cancelled on the platform", e.InvoiceID)
	}
	return fmt.Sprintf("invoice %s already imported as %s", e.InvoiceID, e.LedgerID)
}

// Is matches ErrAlreadyImported
func (e *AlreadyImportedError) Is(target error) bool {
	return target == ErrAlreadyImported
}

// IsNoOp reports whether err means the requested work had already been done
func IsNoOp(err error) bool {
	return stderrors.Is(err, ErrAlreadyImported)
}
