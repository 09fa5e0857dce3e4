package approval

import (
	"errors"
	"fmt"

	"lab-booking-api-server/internal/models"
)

type ErrCode string

const (
	CodeNotFound            ErrCode = "NOT_FOUND"
	CodeStockShortage       ErrCode = "STOCK_SHORTAGE"
	CodeAlreadyFinalized    ErrCode = "ALREADY_FINALIZED"
	CodeInvalidStatus       ErrCode = "INVALID_STATUS"
	CodeTransactionConflict ErrCode = "TRANSACTION_CONFLICT"
	CodeUnknown             ErrCode = "UNKNOWN"
)

// Result is what approvers see. MissingItems is shown to them verbatim.
type Result struct {
	Success      bool                 `json:"success"`
	Error        string               `json:"error,omitempty"`
	Code         ErrCode              `json:"code,omitempty"`
	MissingItems []string             `json:"missingItems,omitempty"`
	Status       models.RequestStatus `json:"status,omitempty"`
}

// Error is returned alongside a failed Result when the store itself failed:
// retries exhausted (CodeTransactionConflict) or anything else (CodeUnknown).
type Error struct {
	Code ErrCode
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Code extracts the error code of err, or "" for nil.
func Code(err error) ErrCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// shortageError aborts the approval transaction.
type shortageError struct {
	items []string
}

func (e *shortageError) Error() string {
	return fmt.Sprintf("stock shortage: %d item(s)", len(e.items))
}

var errAlreadyFinalized = errors.New("request already finalized")
