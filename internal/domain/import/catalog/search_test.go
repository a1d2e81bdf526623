package catalog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	infos := []plugin.Info{
		{
			Identifier:    "banks/example:Checking",
			Family:        plugin.FamilyCSV,
			Company:       "Example Bank",
			StatementType: "Checking",
			SearchString:  "254779&&example bank",
			Instructions:  "Download the monthly CSV export",
		},
		{
			Identifier:    "cards/northwind:Visa",
			Family:        plugin.FamilyPDF,
			Company:       "Northwind",
			StatementType: "Credit Card",
			Instructions:  "Use the PDF statement",
		},
	}
	rules := []repository.StatementTypeRule{
		{ID: uuid.New(), Company: "Example Bank", Description: "Savings", Extension: ".csv", SearchExpression: "example bank&&savings", Identifier: "banks/example:Savings"},
	}

	idx, err := Build(infos, rules)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndex_Search(t *testing.T) {
	idx := testIndex(t)

	count, err := idx.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	t.Run("company matches plugins and rules", func(t *testing.T) {
		hits, err := idx.Search("example", "", 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		kinds := []string{hits[0].Kind, hits[1].Kind}
		assert.ElementsMatch(t, []string{KindPlugin, KindRule}, kinds)
	})

	t.Run("kind filter", func(t *testing.T) {
		hits, err := idx.Search("example", KindRule, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "banks/example:Savings", hits[0].Identifier)
		assert.Equal(t, ".csv", hits[0].Extension)
	})

	t.Run("typo tolerance", func(t *testing.T) {
		hits, err := idx.Search("northwnd", "", 10)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "cards/northwind:Visa", hits[0].Identifier)
		assert.Equal(t, string(plugin.FamilyPDF), hits[0].Family)
	})

	t.Run("instructions are searchable", func(t *testing.T) {
		hits, err := idx.Search("monthly export", KindPlugin, 10)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "banks/example:Checking", hits[0].Identifier)
	})

	t.Run("no hits", func(t *testing.T) {
		hits, err := idx.Search("brokerage", "", 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}
