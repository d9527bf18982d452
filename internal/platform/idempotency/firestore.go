package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps entries in a Firestore collection, one document per scoped key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a FirestoreStore. An empty collection selects the default.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}, nil
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

// Begin implements Store.
func (s *FirestoreStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, Outcome, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return Entry{}, OutcomeInFlight, err
	}

	var (
		entry   Entry
		outcome Outcome
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc keyDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode idempotency key: %w", err)
			}
			current := doc.toEntry()
			if !current.expired(now) {
				if current.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				entry = current
				outcome = OutcomeInFlight
				if current.Done {
					outcome = OutcomeReplay
				}
				return nil
			}
		}

		entry = Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
		outcome = OutcomeFresh
		return tx.Set(ref, newKeyDocument(entry))
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return Entry{}, OutcomeInFlight, err
		}
		return Entry{}, OutcomeInFlight, pfirestore.WrapError("idempotency.begin", err)
	}
	return entry, outcome, nil
}

// Finish implements Store.
func (s *FirestoreStore) Finish(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		createdAt := now
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			var doc keyDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode idempotency key: %w", err)
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			createdAt = doc.CreatedAt
		case codes.NotFound:
		default:
			return err
		}

		entry := Entry{
			Key:         key,
			Fingerprint: fingerprint,
			Done:        true,
			Reply:       Reply{Status: reply.Status, Header: replayableHeader(reply.Header), Body: reply.Body},
			CreatedAt:   createdAt,
			ExpiresAt:   now.Add(ttl),
		}
		return tx.Set(ref, newKeyDocument(entry))
	})
	if err != nil && !errors.Is(err, ErrFingerprintMismatch) {
		return pfirestore.WrapError("idempotency.finish", err)
	}
	return err
}

// Abandon implements Store.
func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.abandon", err)
	}
	return nil
}

// Sweep deletes up to limit expired entries in one batch.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	snaps, err := client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.sweep", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	bw := client.BulkWriter(ctx)
	for _, snap := range snaps {
		if _, err := bw.Delete(snap.Ref); err != nil {
			bw.End()
			return 0, pfirestore.WrapError("idempotency.sweep", err)
		}
	}
	bw.End()
	return len(snaps), nil
}

type keyDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func newKeyDocument(entry Entry) keyDocument {
	return keyDocument{
		Key:         entry.Key,
		Fingerprint: entry.Fingerprint,
		Done:        entry.Done,
		Status:      entry.Reply.Status,
		Header:      entry.Reply.Header,
		Body:        entry.Reply.Body,
		CreatedAt:   entry.CreatedAt,
		ExpiresAt:   entry.ExpiresAt,
	}
}

func (d keyDocument) toEntry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Done:        d.Done,
		Reply:       Reply{Status: d.Status, Header: d.Header, Body: d.Body},
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

var _ Store = (*FirestoreStore)(nil)
