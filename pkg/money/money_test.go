package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		european bool
		want     int64
	}{
		{"plain", "12.34", false, 1234},
		{"negative", "-4.50", false, -450},
		{"thousands", "1,234.56", false, 123456},
		{"currency symbol", "$1,000.00", false, 100000},
		{"parentheses", "($42.17)", false, -4217},
		{"trailing minus", "42.17-", false, -4217},
		{"credit suffix", "10.00 CR", false, 1000},
		{"debit suffix", "10.00DR", false, -1000},
		{"european", "1.234,56", true, 123456},
		{"european negative", "-€4,50", true, -450},
		{"explicit plus", "+7.01", false, 701},
		{"rounds half away from zero", "0.125", false, 13},
		{"no float drift", "0.29", false, 29},
		{"integer", "100", false, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCents(tt.input, tt.european)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCents_Errors(t *testing.T) {
	_, err := ParseCents("   ", false)
	assert.ErrorIs(t, err, ErrEmptyAmount)

	_, err = ParseCents("abc", false)
	assert.Error(t, err)

	_, err = ParseCents("1.2.3", false)
	assert.Error(t, err)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "-42.17", FormatCents(-4217))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "1234.00", FormatCents(123400))
}

func TestMoney_Display(t *testing.T) {
	assert.Equal(t, "$1,234.56", New(123456, USD).Display())
	assert.Equal(t, int64(-4217), New(-4217, EUR).Amount())

	var nilMoney *Money
	assert.Equal(t, "$0.00", nilMoney.Display())
	assert.Equal(t, int64(0), nilMoney.Amount())
}
