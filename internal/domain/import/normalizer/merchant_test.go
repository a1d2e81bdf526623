package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerchantSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewMerchantSanitizer()

	tests := []struct {
		name           string
		input          string
		expectedName   string
		expectedCat    string
		expectedSubcat string
	}{
		{"grocery with prefix and reference", "CARD PURCHASE WHOLEFDS 10/03 #123456", "Whole Foods", "Groceries", "Supermarket"},
		{"european prefix", "COMPRA PGO DOCE ALVALADE 123456", "Pingo Doce", "Groceries", "Supermarket"},
		{"streaming", "NETFLIX.COM", "Netflix", "Entertainment", "Streaming"},
		{"rideshare", "UBER *TRIP 12/01", "Uber", "Transport", "Rideshare"},
		{"delivery wins over rideshare", "UBER EATS", "Uber Eats", "Food & Drink", "Delivery"},
		{"transfer", "ONLINE TRANSFER TO SAV 1234", "Transfer", "Transfers", "Internal"},
		{"payroll deposit", "ACH PAYROLL ACME CORP", "Payroll", "Income", "Salary"},
		{"unknown merchant gets title case", "SOME RANDOM STORE 456789", "Some Random Store", "", ""},
		{"unknown merchant loses location", "POS JOE'S TACOS PORTLAND OR", "Joe's Tacos", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizer.Sanitize(tt.input)
			assert.Equal(t, tt.input, result.OriginalName)
			assert.Equal(t, tt.expectedName, result.NormalizedName)
			assert.Equal(t, tt.expectedCat, result.Category)
			assert.Equal(t, tt.expectedSubcat, result.Subcategory)
		})
	}
}

func TestMerchantSanitizer_AddPattern(t *testing.T) {
	sanitizer := NewMerchantSanitizer()
	require.NoError(t, sanitizer.AddPattern(`ACME\s*GYM`, "Acme Gym", "Health", "Fitness"))
	assert.Error(t, sanitizer.AddPattern(`(`, "broken", "", ""))

	result := sanitizer.Sanitize("RECURRING ACME GYM 0042")
	assert.Equal(t, "Acme Gym", result.NormalizedName)
	assert.Equal(t, "Fitness", result.Subcategory)
}

func TestCleanMerchantName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"COMPRA PINGO DOCE 123456", "PINGO DOCE"},
		{"PAG STARBUCKS 12/01", "STARBUCKS"},
		{"MB WAY RESTAURANTE XYZ", "RESTAURANTE XYZ"},
		{"  LIDL  PORTO  ", "LIDL PORTO"},
		{"DEBIT CARD SHELL OIL 03/14/2024 *88231", "SHELL OIL"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanMerchantName(tt.input))
		})
	}
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Élan Café", titleCase("ÉLAN CAFÉ"))
	assert.Equal(t, "", titleCase("   "))
}
