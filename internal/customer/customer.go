package customer

import (
	"errors"
	"strings"

	"github.com/ttacon/libphonenumber"
)

const (
	DefaultRegion = "IN"
	namePrefix    = "name:"
)

var (
	ErrInvalidPhone = errors.New("invalid phone number")
	ErrNameRequired = errors.New("customer name is required")
)

// Key derives the ledger grouping key for a customer. A phone number wins and
// is normalised to E.164; without one the trimmed name is used verbatim.
func Key(phone, name, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone != "" {
		return NormalizePhone(phone, region)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	return namePrefix + name, nil
}

// NormalizePhone parses phone in region and formats it as E.164.
func NormalizePhone(phone, region string) (string, error) {
	if region == "" {
		region = DefaultRegion
	}
	num, err := libphonenumber.Parse(phone, strings.ToUpper(region))
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// IsNameKey reports whether key is a legacy name-based key.
func IsNameKey(key string) bool {
	return strings.HasPrefix(key, namePrefix)
}
