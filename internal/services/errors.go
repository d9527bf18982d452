package services

import (
	"errors"
	"fmt"

	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrValidation signals the caller supplied malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the referenced entity does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a product could not cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateTransaction indicates a provider transaction id is already bound to another payment.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	// ErrInvalidTransition indicates the requested status edge is not part of the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnauthorized indicates the actor may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConcurrencyConflict indicates a conditional write lost against a concurrent update.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrUnavailable indicates a backing store or provider could not be reached.
	ErrUnavailable = errors.New("dependency unavailable")
)

// IsRetryable reports whether the caller may safely retry the operation after re-reading state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// mapRepositoryError folds persistence failures into the service error taxonomy.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: product %s requested %d available %d", ErrInsufficientStock, stockErr.ProductID, stockErr.Requested, stockErr.Available)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: product %s", ErrNotFound, stockErr.ProductID)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
	}

	var paymentErr *repositories.PaymentError
	if errors.As(err, &paymentErr) {
		switch paymentErr.Code {
		case repositories.PaymentErrorDuplicateTransaction:
			return fmt.Errorf("%w: %v", ErrDuplicateTransaction, err)
		case repositories.PaymentErrorStatusMismatch:
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isStatusMismatch(err error) bool {
	var paymentErr *repositories.PaymentError
	return errors.As(err, &paymentErr) && paymentErr.Code == repositories.PaymentErrorStatusMismatch
}
