package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// PaymentRepository stores payments plus a transaction claim index enforcing
// (provider, transactionId) uniqueness.
type PaymentRepository struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	claims   map[string]string
}

// NewPaymentRepository constructs an empty payment repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]domain.Payment),
		claims:   make(map[string]string),
	}
}

func (r *PaymentRepository) Insert(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[payment.ID]; exists {
		return conflict("payments.insert", "payment %s already exists", payment.ID)
	}
	if payment.TransactionID != "" {
		key := domain.TransactionKey(payment.Provider, payment.TransactionID)
		if _, claimed := r.claims[key]; claimed {
			return repositories.NewPaymentError(repositories.PaymentErrorDuplicateTransaction, "transaction "+key+" already recorded", nil)
		}
		r.claims[key] = payment.ID
	}
	r.payments[payment.ID] = domain.ClonePayment(payment)
	return nil
}

func (r *PaymentRepository) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payment, ok := r.payments[paymentID]
	if !ok {
		return domain.Payment{}, notFound("payments.find")
	}
	return domain.ClonePayment(payment), nil
}

func (r *PaymentRepository) FindByTransaction(_ context.Context, provider string, transactionID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.claims[domain.TransactionKey(provider, transactionID)]
	if !ok {
		return domain.Payment{}, notFound("payments.find_by_transaction")
	}
	return domain.ClonePayment(r.payments[id]), nil
}

func (r *PaymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Payment
	for _, payment := range r.payments {
		if payment.OrderID == orderID {
			out = append(out, domain.ClonePayment(payment))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *PaymentRepository) Transition(_ context.Context, payment domain.Payment, expected domain.PaymentStatus) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.payments[payment.ID]
	if !ok {
		return domain.Payment{}, notFound("payments.transition")
	}
	if current.Status != expected {
		return domain.Payment{}, repositories.NewPaymentError(repositories.PaymentErrorStatusMismatch,
			"payment status is "+string(current.Status)+", expected "+string(expected), nil)
	}
	if payment.TransactionID != "" {
		key := domain.TransactionKey(payment.Provider, payment.TransactionID)
		if owner, claimed := r.claims[key]; claimed && owner != payment.ID {
			return domain.Payment{}, repositories.NewPaymentError(repositories.PaymentErrorDuplicateTransaction, "transaction "+key+" already recorded", nil)
		}
		r.claims[key] = payment.ID
	}
	stored := domain.ClonePayment(payment)
	stored.Version = current.Version + 1
	r.payments[payment.ID] = stored
	return domain.ClonePayment(stored), nil
}
