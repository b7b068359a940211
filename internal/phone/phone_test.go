package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		raw, region, want string
	}{
		{"+1 650-253-0000", "US", "+16502530000"},
		{"(650) 253-0000", "US", "+16502530000"},
		{"0712 345 678", "KE", "+254712345678"},
		{"whatsapp:+254712345678", "US", "+254712345678"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.raw, tc.region)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "abc", "+1 123"} {
		_, err := Normalize(raw, "US")
		assert.ErrorIs(t, err, ErrInvalidNumber, raw)
	}
}

func TestWhatsAppAddressRoundTrip(t *testing.T) {
	addr, err := WhatsAppAddress("0712345678", "ke")
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+254712345678", addr)
	assert.Equal(t, "+254712345678", FromWhatsAppAddress(addr))
}
