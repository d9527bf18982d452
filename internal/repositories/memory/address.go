package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/storefront/api/internal/domain"
)

// AddressRepository keeps addresses per user. One mutex covers a user's whole address set so
// default flips are atomic.
type AddressRepository struct {
	mu    sync.Mutex
	users map[string]map[string]domain.Address
}

// NewAddressRepository constructs an empty address repository.
func NewAddressRepository() *AddressRepository {
	return &AddressRepository{users: make(map[string]map[string]domain.Address)}
}

func (r *AddressRepository) List(_ context.Context, userID string) ([]domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Address, 0, len(r.users[userID]))
	for _, addr := range r.users[userID] {
		out = append(out, addr.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *AddressRepository) Get(_ context.Context, userID string, addressID string) (domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr, ok := r.users[userID][addressID]
	if !ok {
		return domain.Address{}, notFound("addresses.get")
	}
	return addr.Clone(), nil
}

func (r *AddressRepository) Save(_ context.Context, addr domain.Address) (domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.users[addr.UserID]
	if set == nil {
		set = make(map[string]domain.Address)
		r.users[addr.UserID] = set
	}
	if addr.IsDefault {
		clearDefaults(set, addr.ID)
	}
	set[addr.ID] = addr.Clone()
	return addr.Clone(), nil
}

func (r *AddressRepository) Delete(_ context.Context, userID string, addressID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID][addressID]; !ok {
		return notFound("addresses.delete")
	}
	delete(r.users[userID], addressID)
	return nil
}

func (r *AddressRepository) SetDefault(_ context.Context, userID string, addressID string) (domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.users[userID]
	target, ok := set[addressID]
	if !ok {
		return domain.Address{}, notFound("addresses.set_default")
	}
	clearDefaults(set, addressID)
	target.IsDefault = true
	set[addressID] = target
	return target.Clone(), nil
}

func clearDefaults(set map[string]domain.Address, keepID string) {
	for id, existing := range set {
		if id != keepID && existing.IsDefault {
			existing.IsDefault = false
			set[id] = existing
		}
	}
}
