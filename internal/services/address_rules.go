package services

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	domain "github.com/storefront/api/internal/domain"
)

const defaultMXCountry = "México"

type mxAddressRules struct {
	FullName             string `validate:"required,min=5,max=100"`
	Street               string `validate:"required,min=3,max=100"`
	ExtNumber            string `validate:"required,max=10"`
	IntNumber            string `validate:"max=10"`
	Neighborhood         string `validate:"required,max=100"`
	Municipality         string `validate:"required,max=100"`
	State                string `validate:"required,max=100"`
	PostalCode           string `validate:"required,len=5,numeric"`
	Country              string `validate:"required,min=4,max=56"`
	Phone                string `validate:"max=20"`
	DeliveryInstructions string `validate:"max=300"`
}

type genericAddressRules struct {
	FullName             string `validate:"required,min=5,max=100"`
	Line1                string `validate:"required,max=200"`
	Line2                string `validate:"max=200"`
	City                 string `validate:"required,max=100"`
	State                string `validate:"max=100"`
	PostalCode           string `validate:"required,min=3,max=16"`
	Country              string `validate:"required,min=2,max=56"`
	Phone                string `validate:"max=20"`
	DeliveryInstructions string `validate:"max=300"`
}

var (
	addressValidatorOnce sync.Once
	addressValidator     *validator.Validate
	addressTextPolicy    *bluemonday.Policy
)

func addressTools() (*validator.Validate, *bluemonday.Policy) {
	addressValidatorOnce.Do(func() {
		addressValidator = validator.New(validator.WithRequiredStructEnabled())
		addressTextPolicy = bluemonday.StrictPolicy()
	})
	return addressValidator, addressTextPolicy
}

// resolveAddressProfile picks the field set for an address. An explicit profile wins, then
// the request locale's region, then the country name.
func resolveAddressProfile(explicit domain.AddressProfile, locale string, country string) (domain.AddressProfile, error) {
	switch domain.AddressProfile(strings.ToLower(strings.TrimSpace(string(explicit)))) {
	case domain.AddressProfileMX:
		return domain.AddressProfileMX, nil
	case domain.AddressProfileGeneric:
		return domain.AddressProfileGeneric, nil
	case "":
	default:
		return "", fmt.Errorf("%w: unknown address profile %q", ErrValidation, explicit)
	}

	if tag := strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"); tag != "" {
		parsed, err := language.Parse(tag)
		if err != nil {
			return "", fmt.Errorf("%w: invalid locale %q", ErrValidation, locale)
		}
		if region, confidence := parsed.Region(); confidence == language.Exact && region.String() == "MX" {
			return domain.AddressProfileMX, nil
		}
	}

	switch strings.ToLower(strings.TrimSpace(country)) {
	case "mx", "mexico", "méxico":
		return domain.AddressProfileMX, nil
	}
	if strings.TrimSpace(country) == "" && strings.TrimSpace(locale) == "" {
		return domain.AddressProfileMX, nil
	}
	return domain.AddressProfileGeneric, nil
}

// normaliseAddress trims fields and strips markup from delivery instructions. Fields outside
// the profile are dropped before validation.
func normaliseAddress(addr Address, profile domain.AddressProfile) (Address, error) {
	validate, policy := addressTools()

	out := Address{
		ID:                   addr.ID,
		UserID:               addr.UserID,
		Profile:              profile,
		FullName:             strings.TrimSpace(addr.FullName),
		State:                strings.TrimSpace(addr.State),
		PostalCode:           strings.TrimSpace(addr.PostalCode),
		Country:              strings.TrimSpace(addr.Country),
		Phone:                strings.TrimSpace(addr.Phone),
		DeliveryInstructions: strings.TrimSpace(html.UnescapeString(policy.Sanitize(addr.DeliveryInstructions))),
		IsDefault:            addr.IsDefault,
		CreatedAt:            addr.CreatedAt,
		UpdatedAt:            addr.UpdatedAt,
	}

	var rules any
	switch profile {
	case domain.AddressProfileMX:
		out.Street = strings.TrimSpace(addr.Street)
		out.ExtNumber = strings.TrimSpace(addr.ExtNumber)
		out.IntNumber = strings.TrimSpace(addr.IntNumber)
		out.Neighborhood = strings.TrimSpace(addr.Neighborhood)
		out.Municipality = strings.TrimSpace(addr.Municipality)
		if out.Country == "" {
			out.Country = defaultMXCountry
		}
		rules = mxAddressRules{
			FullName:             out.FullName,
			Street:               out.Street,
			ExtNumber:            out.ExtNumber,
			IntNumber:            out.IntNumber,
			Neighborhood:         out.Neighborhood,
			Municipality:         out.Municipality,
			State:                out.State,
			PostalCode:           out.PostalCode,
			Country:              out.Country,
			Phone:                out.Phone,
			DeliveryInstructions: out.DeliveryInstructions,
		}
	default:
		out.Line1 = strings.TrimSpace(addr.Line1)
		out.Line2 = strings.TrimSpace(addr.Line2)
		out.City = strings.TrimSpace(addr.City)
		rules = genericAddressRules{
			FullName:             out.FullName,
			Line1:                out.Line1,
			Line2:                out.Line2,
			City:                 out.City,
			State:                out.State,
			PostalCode:           out.PostalCode,
			Country:              out.Country,
			Phone:                out.Phone,
			DeliveryInstructions: out.DeliveryInstructions,
		}
	}

	if err := validate.Struct(rules); err != nil {
		return Address{}, describeAddressViolations(err)
	}
	return out, nil
}

func describeAddressViolations(err error) error {
	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parts := make([]string, 0, len(violations))
	for _, fe := range violations {
		field := fe.Field()
		if field != "" {
			field = strings.ToLower(field[:1]) + field[1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: address %s", ErrValidation, strings.Join(parts, "; "))
}
