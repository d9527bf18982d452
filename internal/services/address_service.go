package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storefront/api/internal/repositories"
)

const addressIDPrefix = "addr_"

// AddressServiceDeps bundles collaborators required to construct the address service.
type AddressServiceDeps struct {
	Addresses   repositories.AddressRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	addresses repositories.AddressRepository
	orders    repositories.OrderRepository
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewAddressService wires dependencies into a concrete AddressService implementation.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("address service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &addressService{
		addresses: deps.Addresses,
		orders:    deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	items, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return items, nil
}

func (s *addressService) GetAddress(ctx context.Context, userID string, addressID string) (Address, error) {
	userID, addressID, err := normaliseAddressKeys(userID, addressID)
	if err != nil {
		return Address{}, err
	}
	addr, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return Address{}, mapRepositoryError(err)
	}
	return addr, nil
}

func (s *addressService) CreateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	profile, err := resolveAddressProfile(cmd.Address.Profile, cmd.Locale, cmd.Address.Country)
	if err != nil {
		return Address{}, err
	}

	now := s.clock()
	input := cmd.Address
	input.ID = addressIDPrefix + s.newID()
	input.UserID = userID
	input.IsDefault = cmd.IsDefault != nil && *cmd.IsDefault
	input.CreatedAt = now
	input.UpdatedAt = now

	addr, err := normaliseAddress(input, profile)
	if err != nil {
		return Address{}, err
	}

	saved, err := s.addresses.Save(ctx, addr)
	if err != nil {
		return Address{}, mapRepositoryError(err)
	}
	s.logger(ctx, "address.created", map[string]any{
		"userId":    userID,
		"addressId": saved.ID,
		"profile":   string(saved.Profile),
		"isDefault": saved.IsDefault,
	})
	return saved, nil
}

func (s *addressService) UpdateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error) {
	userID, addressID, err := normaliseAddressKeys(cmd.UserID, cmd.AddressID)
	if err != nil {
		return Address{}, err
	}

	existing, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return Address{}, mapRepositoryError(err)
	}

	requested := cmd.Address.Profile
	if requested == "" && strings.TrimSpace(cmd.Locale) == "" && strings.TrimSpace(cmd.Address.Country) == "" {
		requested = existing.Profile
	}
	profile, err := resolveAddressProfile(requested, cmd.Locale, cmd.Address.Country)
	if err != nil {
		return Address{}, err
	}

	input := cmd.Address
	input.ID = existing.ID
	input.UserID = userID
	input.IsDefault = existing.IsDefault
	if cmd.IsDefault != nil {
		input.IsDefault = *cmd.IsDefault
	}
	input.CreatedAt = existing.CreatedAt
	input.UpdatedAt = s.clock()

	addr, err := normaliseAddress(input, profile)
	if err != nil {
		return Address{}, err
	}

	saved, err := s.addresses.Save(ctx, addr)
	if err != nil {
		return Address{}, mapRepositoryError(err)
	}
	return saved, nil
}

func (s *addressService) DeleteAddress(ctx context.Context, userID string, addressID string) error {
	userID, addressID, err := normaliseAddressKeys(userID, addressID)
	if err != nil {
		return err
	}
	if _, err := s.addresses.Get(ctx, userID, addressID); err != nil {
		return mapRepositoryError(err)
	}

	referenced, err := s.orders.HasPendingForAddress(ctx, userID, addressID)
	if err != nil {
		return mapRepositoryError(err)
	}
	if referenced {
		return fmt.Errorf("%w: address %s is referenced by a pending order", ErrValidation, addressID)
	}

	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return mapRepositoryError(err)
	}
	s.logger(ctx, "address.deleted", map[string]any{
		"userId":    userID,
		"addressId": addressID,
	})
	return nil
}

func (s *addressService) SetDefault(ctx context.Context, userID string, addressID string) (Address, error) {
	userID, addressID, err := normaliseAddressKeys(userID, addressID)
	if err != nil {
		return Address{}, err
	}
	addr, err := s.addresses.SetDefault(ctx, userID, addressID)
	if err != nil {
		return Address{}, mapRepositoryError(err)
	}
	s.logger(ctx, "address.default.changed", map[string]any{
		"userId":    userID,
		"addressId": addressID,
	})
	return addr, nil
}

func normaliseAddressKeys(userID, addressID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if addressID == "" {
		return "", "", fmt.Errorf("%w: address id is required", ErrValidation)
	}
	return userID, addressID, nil
}
