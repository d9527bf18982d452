package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

// AddressHandlers exposes the authenticated user's address book under /me/addresses.
type AddressHandlers struct {
	addresses services.AddressService
}

// NewAddressHandlers constructs address handlers.
func NewAddressHandlers(addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{addresses: addresses}
}

// Routes registers the address routes. Mount under /me.
func (h *AddressHandlers) Routes(r chi.Router) {
	r.Route("/addresses", func(r chi.Router) {
		r.Get("/", h.listAddresses)
		r.Post("/", h.createAddress)
		r.Put("/{addressID}", h.updateAddress)
		r.Delete("/{addressID}", h.deleteAddress)
		r.Post("/{addressID}:setDefault", h.setDefault)
	})
}

type addressRequest struct {
	Profile              string `json:"profile"`
	FullName             string `json:"fullName"`
	Line1                string `json:"line1"`
	Line2                string `json:"line2"`
	City                 string `json:"city"`
	Street               string `json:"street"`
	ExtNumber            string `json:"extNumber"`
	IntNumber            string `json:"intNumber"`
	Neighborhood         string `json:"neighborhood"`
	Municipality         string `json:"municipality"`
	State                string `json:"state"`
	PostalCode           string `json:"postalCode"`
	Country              string `json:"country"`
	Phone                string `json:"phone"`
	DeliveryInstructions string `json:"deliveryInstructions"`
	IsDefault            *bool  `json:"isDefault"`
}

func (req addressRequest) toDomain() domain.Address {
	return domain.Address{
		Profile:              domain.AddressProfile(strings.TrimSpace(req.Profile)),
		FullName:             req.FullName,
		Line1:                req.Line1,
		Line2:                req.Line2,
		City:                 req.City,
		Street:               req.Street,
		ExtNumber:            req.ExtNumber,
		IntNumber:            req.IntNumber,
		Neighborhood:         req.Neighborhood,
		Municipality:         req.Municipality,
		State:                req.State,
		PostalCode:           req.PostalCode,
		Country:              req.Country,
		Phone:                req.Phone,
		DeliveryInstructions: req.DeliveryInstructions,
	}
}

type addressPayload struct {
	ID                   string `json:"id"`
	Profile              string `json:"profile"`
	FullName             string `json:"fullName"`
	Line1                string `json:"line1,omitempty"`
	Line2                string `json:"line2,omitempty"`
	City                 string `json:"city,omitempty"`
	Street               string `json:"street,omitempty"`
	ExtNumber            string `json:"extNumber,omitempty"`
	IntNumber            string `json:"intNumber,omitempty"`
	Neighborhood         string `json:"neighborhood,omitempty"`
	Municipality         string `json:"municipality,omitempty"`
	State                string `json:"state,omitempty"`
	PostalCode           string `json:"postalCode"`
	Country              string `json:"country"`
	Phone                string `json:"phone,omitempty"`
	DeliveryInstructions string `json:"deliveryInstructions,omitempty"`
	IsDefault            bool   `json:"isDefault"`
	CreatedAt            string `json:"createdAt,omitempty"`
	UpdatedAt            string `json:"updatedAt,omitempty"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:                   addr.ID,
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
		CreatedAt:            formatTime(addr.CreatedAt),
		UpdatedAt:            formatTime(addr.UpdatedAt),
	}
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	addresses, err := h.addresses.ListAddresses(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		payload = append(payload, buildAddressPayload(addr))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"addresses": payload})
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req addressRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	saved, err := h.addresses.CreateAddress(ctx, services.SaveAddressCommand{
		UserID:    identity.UID,
		Locale:    requestLocale(r, identity),
		Address:   req.toDomain(),
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+saved.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildAddressPayload(saved))
}

func (h *AddressHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	addressID, ok := pathParam(ctx, w, r, "addressID")
	if !ok {
		return
	}

	var req addressRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	saved, err := h.addresses.UpdateAddress(ctx, services.SaveAddressCommand{
		UserID:    identity.UID,
		AddressID: addressID,
		Locale:    requestLocale(r, identity),
		Address:   req.toDomain(),
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAddressPayload(saved))
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	addressID, ok := pathParam(ctx, w, r, "addressID")
	if !ok {
		return
	}

	if err := h.addresses.DeleteAddress(ctx, identity.UID, addressID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHandlers) setDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	addressID, ok := pathParam(ctx, w, r, "addressID")
	if !ok {
		return
	}

	saved, err := h.addresses.SetDefault(ctx, identity.UID, addressID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildAddressPayload(saved))
}

// requestLocale prefers the locale claim on the ID token, then the first Accept-Language tag.
func requestLocale(r *http.Request, identity *auth.Identity) string {
	if identity != nil && strings.TrimSpace(identity.Locale) != "" {
		return identity.Locale
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}
