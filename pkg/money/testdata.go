package money

import (
	"sort"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// TestDataGenerator generates realistic statement lines for tests using gofakeit.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a new test data generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a generator with a specific seed for reproducibility.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// TestLine is one generated statement line with its running balance.
type TestLine struct {
	Date         time.Time
	Description  string
	AmountCents  int64
	BalanceCents int64
}

// Statement generates count lines dated within [start, end], sorted by date,
// whose running balances start from opening. It returns the lines and the
// closing balance.
func (g *TestDataGenerator) Statement(opening int64, count int, start, end time.Time) ([]TestLine, int64) {
	lines := make([]TestLine, count)
	for i := range lines {
		amount := int64(g.faker.Number(1, 50000))
		if g.faker.Bool() {
			amount = -amount
		}
		lines[i] = TestLine{
			Date:        truncateDay(g.faker.DateRange(start, end)),
			Description: g.Description(),
			AmountCents: amount,
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Date.Before(lines[j].Date) })

	balance := opening
	for i := range lines {
		balance += lines[i].AmountCents
		lines[i].BalanceCents = balance
	}
	return lines, balance
}

// Description generates a bank-style transaction description.
func (g *TestDataGenerator) Description() string {
	prefixes := []string{"POS ", "ACH ", "CARD PURCHASE ", "DEBIT ", ""}
	return prefixes[g.faker.Number(0, len(prefixes)-1)] + g.faker.Company()
}

// AccountNumber generates a numeric account number of the given length.
func (g *TestDataGenerator) AccountNumber(digits int) string {
	b := make([]byte, digits)
	for i := range b {
		b[i] = byte('0' + g.faker.Number(0, 9))
	}
	return string(b)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
