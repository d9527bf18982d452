package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const (
	addressCollectionPattern = "users/%s/addresses"
	addressGuardCollection   = "meta"
	addressGuardID           = "defaultAddress"
)

// AddressRepository persists user addresses in Firestore.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// List returns the user's addresses with the default first, then by creation time.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("createdAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		addr, err := decodeAddressDocument(snap, userID)
		if err != nil {
			return nil, err
		}
		results = append(results, addr)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].IsDefault && !results[j].IsDefault
	})
	return results, nil
}

// Get loads a single address owned by the user.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	return decodeAddressDocument(snap, userID)
}

// Save upserts the address. A default address clears every other default of the user in
// the same transaction.
func (r *AddressRepository) Save(ctx context.Context, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, addr.UserID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addr.ID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var (
			defaults []*firestore.DocumentSnapshot
			guard    *firestore.DocumentRef
		)
		if addr.IsDefault {
			ref, err := readDefaultGuard(tx, coll)
			if err != nil {
				return err
			}
			snaps, err := r.currentDefaults(tx, coll)
			if err != nil {
				return err
			}
			guard, defaults = ref, snaps
		}

		if err := tx.Set(coll.Doc(id), newAddressDocument(addr)); err != nil {
			return err
		}
		if guard != nil {
			if err := writeDefaultGuard(tx, guard, id, time.Now().UTC()); err != nil {
				return err
			}
		}
		return clearDefaults(tx, defaults, id)
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.save", err)
	}
	return addr.Clone(), nil
}

// Delete removes the address document.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}
	if _, err := coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault marks the address as the user's only default.
func (r *AddressRepository) SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef := coll.Doc(id)
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		addr, err := decodeAddressDocument(snap, userID)
		if err != nil {
			return err
		}
		guard, err := readDefaultGuard(tx, coll)
		if err != nil {
			return err
		}
		defaults, err := r.currentDefaults(tx, coll)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Update(docRef, []firestore.Update{
			{Path: "isDefault", Value: true},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if err := writeDefaultGuard(tx, guard, id, now); err != nil {
			return err
		}
		if err := clearDefaults(tx, defaults, id); err != nil {
			return err
		}

		addr.IsDefault = true
		addr.UpdatedAt = now
		saved = addr
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.setDefault", err)
	}
	return saved, nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, uid)), nil
}

// currentDefaults reads inside the transaction so a concurrent default flip aborts one side.
func (r *AddressRepository) currentDefaults(tx *firestore.Transaction, coll *firestore.CollectionRef) ([]*firestore.DocumentSnapshot, error) {
	snaps, err := tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, err
	}
	return snaps, nil
}

// readDefaultGuard reads the user's default-address marker. Every default flip reads and
// rewrites it, so two flips for one user conflict even when no address is default yet.
func readDefaultGuard(tx *firestore.Transaction, coll *firestore.CollectionRef) (*firestore.DocumentRef, error) {
	if coll.Parent == nil {
		return nil, errors.New("address repository: address collection has no owner document")
	}
	ref := coll.Parent.Collection(addressGuardCollection).Doc(addressGuardID)
	if _, err := tx.Get(ref); err != nil && status.Code(err) != codes.NotFound {
		return nil, err
	}
	return ref, nil
}

func writeDefaultGuard(tx *firestore.Transaction, ref *firestore.DocumentRef, addressID string, at time.Time) error {
	return tx.Set(ref, map[string]any{
		"addressId": addressID,
		"updatedAt": at,
	})
}

func clearDefaults(tx *firestore.Transaction, snaps []*firestore.DocumentSnapshot, keepID string) error {
	for _, snap := range snaps {
		if snap.Ref.ID == keepID {
			continue
		}
		if err := tx.Update(snap.Ref, []firestore.Update{{Path: "isDefault", Value: false}}); err != nil {
			return err
		}
	}
	return nil
}

func decodeAddressDocument(snapshot *firestore.DocumentSnapshot, userID string) (domain.Address, error) {
	var doc addressDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snapshot.Ref.ID, err)
	}
	return doc.toDomain(snapshot.Ref.ID, userID), nil
}

type addressDocument struct {
	Profile              string    `firestore:"profile"`
	FullName             string    `firestore:"fullName"`
	Line1                string    `firestore:"line1,omitempty"`
	Line2                string    `firestore:"line2,omitempty"`
	City                 string    `firestore:"city,omitempty"`
	Street               string    `firestore:"street,omitempty"`
	ExtNumber            string    `firestore:"extNumber,omitempty"`
	IntNumber            string    `firestore:"intNumber,omitempty"`
	Neighborhood         string    `firestore:"neighborhood,omitempty"`
	Municipality         string    `firestore:"municipality,omitempty"`
	State                string    `firestore:"state,omitempty"`
	PostalCode           string    `firestore:"postalCode"`
	Country              string    `firestore:"country"`
	Phone                string    `firestore:"phone,omitempty"`
	DeliveryInstructions string    `firestore:"deliveryInstructions,omitempty"`
	IsDefault            bool      `firestore:"isDefault"`
	CreatedAt            time.Time `firestore:"createdAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Profile:              string(addr.Profile),
		FullName:             addr.FullName,
		Line1:                addr.Line1,
		Line2:                addr.Line2,
		City:                 addr.City,
		Street:               addr.Street,
		ExtNumber:            addr.ExtNumber,
		IntNumber:            addr.IntNumber,
		Neighborhood:         addr.Neighborhood,
		Municipality:         addr.Municipality,
		State:                addr.State,
		PostalCode:           addr.PostalCode,
		Country:              addr.Country,
		Phone:                addr.Phone,
		DeliveryInstructions: addr.DeliveryInstructions,
		IsDefault:            addr.IsDefault,
		CreatedAt:            addr.CreatedAt.UTC(),
		UpdatedAt:            addr.UpdatedAt.UTC(),
	}
}

func (d addressDocument) toDomain(id, userID string) domain.Address {
	return domain.Address{
		ID:                   id,
		UserID:               userID,
		Profile:              domain.AddressProfile(d.Profile),
		FullName:             d.FullName,
		Line1:                d.Line1,
		Line2:                d.Line2,
		City:                 d.City,
		Street:               d.Street,
		ExtNumber:            d.ExtNumber,
		IntNumber:            d.IntNumber,
		Neighborhood:         d.Neighborhood,
		Municipality:         d.Municipality,
		State:                d.State,
		PostalCode:           d.PostalCode,
		Country:              d.Country,
		Phone:                d.Phone,
		DeliveryInstructions: d.DeliveryInstructions,
		IsDefault:            d.IsDefault,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
