package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const sequencesCollection = "sequences"

type sequenceDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository keeps one sequence document per counter id. Order numbering uses a
// counter per calendar year, so each document stays small and contention is per year.
type CounterRepository struct {
	provider  *pfirestore.Provider
	sequences *pfirestore.Collection[sequenceDocument]
}

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider:  provider,
		sequences: pfirestore.NewCollection[sequenceDocument](provider, sequencesCollection),
	}, nil
}

// Next advances the sequence by step inside a transaction and returns the new value.
// Unknown counters start at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counter repository: counter id is required")
	}
	if step <= 0 {
		step = 1
	}

	var value int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sequences.Ref(ctx, id)
		if err != nil {
			return err
		}
		seq, _, err := pfirestore.ReadTx[sequenceDocument](tx, ref)
		if err != nil {
			return err
		}
		seq.Value += step
		seq.UpdatedAt = time.Now().UTC()
		value = seq.Value
		return tx.Set(ref, seq)
	})
	if err != nil {
		return 0, pfirestore.WrapError("sequences.next", err)
	}
	return value, nil
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)
