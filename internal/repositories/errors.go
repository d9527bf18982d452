package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock writes.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates requested quantity exceeds the stock on hand.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product document is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorInvalidQuantity indicates a non-positive quantity was supplied.
	StockErrorInvalidQuantity StockErrorCode = "stock_invalid_quantity"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: product %s requested %d available %d", e.Code, e.ProductID, e.Requested, e.Available)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID string, requested, available int) *StockError {
	return &StockError{
		Code:      code,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// PaymentErrorCode enumerates constraint failures raised by payment persistence.
type PaymentErrorCode string

const (
	// PaymentErrorDuplicateTransaction indicates the (provider, transactionId) pair belongs to another payment.
	PaymentErrorDuplicateTransaction PaymentErrorCode = "payment_duplicate_transaction"
	// PaymentErrorStatusMismatch indicates the persisted status no longer matches the expected one.
	PaymentErrorStatusMismatch PaymentErrorCode = "payment_status_mismatch"
)

// PaymentError wraps payment constraint failures with machine readable codes.
type PaymentError struct {
	Op      string
	Code    PaymentErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *PaymentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPaymentError constructs a typed payment error.
func NewPaymentError(code PaymentErrorCode, message string, err error) *PaymentError {
	if message == "" {
		message = string(code)
	}
	return &PaymentError{Code: code, Message: message, Err: err}
}
