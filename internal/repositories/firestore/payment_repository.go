package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const (
	paymentsCollection            = "payments"
	paymentTransactionsCollection = "paymentTransactions"
)

// PaymentRepository stores payments plus one claim document per provider transaction.
// The claim document ID is the transaction key, so Firestore enforces its uniqueness.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.Collection[paymentDocument]
	claims   *pfirestore.Collection[transactionClaimDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider: provider,
		payments: pfirestore.NewCollection[paymentDocument](provider, paymentsCollection),
		claims:   pfirestore.NewCollection[transactionClaimDocument](provider, paymentTransactionsCollection),
	}, nil
}

// Insert creates the payment and, when it already carries a transaction id, its claim.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimRef, err := r.claimRef(ctx, tx, payment)
		if err != nil {
			return err
		}
		ref, err := r.payments.Ref(ctx, payment.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newPaymentDocument(payment)); err != nil {
			return err
		}
		if claimRef != nil {
			return tx.Create(claimRef, newTransactionClaim(payment))
		}
		return nil
	})
	return wrapPaymentError("payments.insert", err)
}

// FindByID loads a payment.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	doc, err := r.payments.Get(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByTransaction resolves the payment that claimed the provider transaction.
func (r *PaymentRepository) FindByTransaction(ctx context.Context, provider string, transactionID string) (domain.Payment, error) {
	claim, err := r.claims.Get(ctx, transactionDocID(provider, transactionID))
	if err != nil {
		return domain.Payment{}, err
	}
	return r.FindByID(ctx, claim.Data.PaymentID)
}

// ListByOrder returns every payment attempt for the order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, doc.Data.toDomain(doc.ID))
	}
	return payments, nil
}

// Transition replaces the payment when its stored status equals expected, claiming the
// transaction id in the same transaction.
func (r *PaymentRepository) Transition(ctx context.Context, payment domain.Payment, expected domain.PaymentStatus) (domain.Payment, error) {
	var saved domain.Payment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.payments.Ref(ctx, payment.ID)
		if err != nil {
			return err
		}
		current, found, err := pfirestore.ReadTx[paymentDocument](tx, ref)
		if err != nil {
			return err
		}
		if !found {
			return pfirestore.NotFoundError("payments.transition", "payment "+payment.ID)
		}
		if domain.PaymentStatus(current.Status) != expected {
			return repositories.NewPaymentError(repositories.PaymentErrorStatusMismatch,
				fmt.Sprintf("payment status is %s, expected %s", current.Status, expected), nil)
		}

		claimRef, err := r.claimRef(ctx, tx, payment)
		if err != nil {
			return err
		}

		doc := newPaymentDocument(payment)
		doc.Version = current.Version + 1
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		if claimRef != nil {
			if err := tx.Create(claimRef, newTransactionClaim(payment)); err != nil {
				return err
			}
		}
		saved = doc.toDomain(payment.ID)
		return nil
	})
	if err != nil {
		return domain.Payment{}, wrapPaymentError("payments.transition", err)
	}
	return saved, nil
}

// claimRef returns the claim document to create for the payment's transaction id, or nil
// when there is none or the payment already owns it.
func (r *PaymentRepository) claimRef(ctx context.Context, tx *firestore.Transaction, payment domain.Payment) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(payment.TransactionID) == "" {
		return nil, nil
	}
	key := domain.TransactionKey(payment.Provider, payment.TransactionID)
	ref, err := r.claims.Ref(ctx, transactionDocID(payment.Provider, payment.TransactionID))
	if err != nil {
		return nil, err
	}
	claim, found, err := pfirestore.ReadTx[transactionClaimDocument](tx, ref)
	if err != nil {
		return nil, err
	}
	if !found {
		return ref, nil
	}
	if claim.PaymentID != payment.ID {
		return nil, repositories.NewPaymentError(repositories.PaymentErrorDuplicateTransaction,
			"transaction "+key+" already recorded", nil)
	}
	return nil, nil
}

func wrapPaymentError(op string, err error) error {
	if err == nil {
		return nil
	}
	var paymentErr *repositories.PaymentError
	if errors.As(err, &paymentErr) {
		paymentErr.Op = op
		return paymentErr
	}
	return pfirestore.WrapError(op, err)
}

func transactionDocID(provider, transactionID string) string {
	key := domain.TransactionKey(strings.TrimSpace(provider), strings.TrimSpace(transactionID))
	return strings.ReplaceAll(key, "/", "_")
}

type transactionClaimDocument struct {
	PaymentID string    `firestore:"paymentId"`
	Provider  string    `firestore:"provider"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

func newTransactionClaim(payment domain.Payment) transactionClaimDocument {
	return transactionClaimDocument{
		PaymentID: payment.ID,
		Provider:  payment.Provider,
		ClaimedAt: payment.UpdatedAt.UTC(),
	}
}

type paymentDocument struct {
	OrderID       string                  `firestore:"orderId"`
	UserID        string                  `firestore:"userId"`
	Provider      string                  `firestore:"provider"`
	Method        string                  `firestore:"method,omitempty"`
	TransactionID string                  `firestore:"transactionId,omitempty"`
	IntentID      string                  `firestore:"intentId,omitempty"`
	Amount        int64                   `firestore:"amount"`
	Currency      string                  `firestore:"currency"`
	Status        string                  `firestore:"status"`
	RawResponse   map[string]any          `firestore:"rawResponse,omitempty"`
	History       []paymentHistoryElement `firestore:"history"`
	Version       int64                   `firestore:"version"`
	CreatedAt     time.Time               `firestore:"createdAt"`
	UpdatedAt     time.Time               `firestore:"updatedAt"`
}

type paymentHistoryElement struct {
	From      string    `firestore:"from,omitempty"`
	To        string    `firestore:"to"`
	ChangedAt time.Time `firestore:"changedAt"`
}

// newPaymentDocument never persists the client secret.
func newPaymentDocument(payment domain.Payment) paymentDocument {
	history := make([]paymentHistoryElement, 0, len(payment.History))
	for _, change := range payment.History {
		history = append(history, paymentHistoryElement{
			From:      string(change.From),
			To:        string(change.To),
			ChangedAt: change.ChangedAt.UTC(),
		})
	}
	return paymentDocument{
		OrderID:       payment.OrderID,
		UserID:        payment.UserID,
		Provider:      payment.Provider,
		Method:        payment.Method,
		TransactionID: payment.TransactionID,
		IntentID:      payment.IntentID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        string(payment.Status),
		RawResponse:   payment.RawResponse,
		History:       history,
		Version:       payment.Version,
		CreatedAt:     payment.CreatedAt.UTC(),
		UpdatedAt:     payment.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	history := make([]domain.PaymentStatusChange, 0, len(d.History))
	for _, change := range d.History {
		history = append(history, domain.PaymentStatusChange{
			From:      domain.PaymentStatus(change.From),
			To:        domain.PaymentStatus(change.To),
			ChangedAt: change.ChangedAt,
		})
	}
	return domain.Payment{
		ID:            id,
		OrderID:       d.OrderID,
		UserID:        d.UserID,
		Provider:      d.Provider,
		Method:        d.Method,
		TransactionID: d.TransactionID,
		IntentID:      d.IntentID,
		Amount:        d.Amount,
		Currency:      d.Currency,
		Status:        domain.PaymentStatus(d.Status),
		RawResponse:   d.RawResponse,
		History:       history,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)
