package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const whatsAppPrefix = "whatsapp:"

var ErrInvalidNumber = errors.New("invalid phone number")

// Normalize parses raw using defaultRegion for numbers without a country code
// and returns it in E.164 form (+254712345678).
func Normalize(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), whatsAppPrefix))
	if raw == "" {
		return "", ErrInvalidNumber
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", ErrInvalidNumber
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// WhatsAppAddress formats a number in the provider's WhatsApp channel form,
// e.g. "whatsapp:+254712345678".
func WhatsAppAddress(raw, defaultRegion string) (string, error) {
	e164, err := Normalize(raw, defaultRegion)
	if err != nil {
		return "", err
	}
	return whatsAppPrefix + e164, nil
}

// FromWhatsAppAddress strips the channel prefix from an inbound address.
func FromWhatsAppAddress(addr string) string {
	return strings.TrimPrefix(strings.TrimSpace(addr), whatsAppPrefix)
}
