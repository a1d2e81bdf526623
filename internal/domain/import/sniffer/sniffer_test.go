package sniffer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
)

type fakeExtractor struct {
	pages []string
	err   error
}

func (f fakeExtractor) ExtractPages([]byte) ([]string, error) { return f.pages, f.err }

func TestLoader_CSV(t *testing.T) {
	loader := NewLoader(nil)

	t.Run("strips BOM and detects semicolons", func(t *testing.T) {
		data := []byte("\xEF\xBB\xBFAccount;254779\n\ndate;description;amount\n2024-01-15;Café;-4,50\n")
		doc, err := loader.Load(data, "", "export.CSV")
		require.NoError(t, err)

		assert.Equal(t, ".csv", doc.Extension)
		assert.Equal(t, "export.CSV", doc.Filename)
		require.Len(t, doc.Rows, 3)
		assert.Equal(t, []string{"Account", "254779"}, doc.Rows[0])
		assert.Equal(t, []string{"2024-01-15", "Café", "-4,50"}, doc.Rows[2])
		assert.Contains(t, doc.Text, "254779")
		assert.NotContains(t, doc.Text, "\uFEFF")
	})

	t.Run("decodes latin1", func(t *testing.T) {
		data := []byte("date,description,amount\n2024-01-15,Caf\xe9,-4.50\n")
		doc, err := loader.Load(data, "csv", "latin.csv")
		require.NoError(t, err)
		assert.Equal(t, "Café", doc.Rows[1][1])
	})

	t.Run("extension hint wins over filename", func(t *testing.T) {
		doc, err := loader.Load([]byte("a,b\n1,2\n"), ".CSV", "upload.bin")
		require.NoError(t, err)
		assert.Equal(t, ".csv", doc.Extension)
	})

	t.Run("hash is stable", func(t *testing.T) {
		data := []byte("a,b\n1,2\n")
		first, err := loader.Load(data, "", "a.csv")
		require.NoError(t, err)
		second, err := loader.Load(append([]byte(nil), data...), "", "b.csv")
		require.NoError(t, err)
		assert.Equal(t, first.Hash, second.Hash)
		assert.Len(t, first.Hash, 64)
	})
}

func TestLoader_PDF(t *testing.T) {
	t.Run("splits pages into collapsed lines", func(t *testing.T) {
		loader := NewLoader(fakeExtractor{pages: []string{"Example   Bank\n\n  Account 254779 ", "01/02  Coffee   -4.50"}})
		doc, err := loader.Load([]byte("%PDF-1.4"), "", "stmt.pdf")
		require.NoError(t, err)
		assert.Equal(t, []string{"Example Bank", "Account 254779", "01/02 Coffee -4.50"}, doc.Lines)
		assert.Contains(t, doc.Text, "Account 254779")
	})

	t.Run("empty text is structure not found", func(t *testing.T) {
		loader := NewLoader(fakeExtractor{pages: []string{"   \n"}})
		_, err := loader.Load([]byte("%PDF-1.4"), "", "scan.pdf")
		assert.ErrorIs(t, err, plugin.ErrStructureNotFound)
	})

	t.Run("extractor failure is structure not found", func(t *testing.T) {
		loader := NewLoader(fakeExtractor{err: errors.New("broken xref")})
		_, err := loader.Load([]byte("junk"), "", "broken.pdf")
		assert.ErrorIs(t, err, plugin.ErrStructureNotFound)
	})
}

func TestLoader_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Loan", "FedLoan"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{"Date", "Amount"}))
	_, err := f.NewSheet("Payments")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Payments", "A1", &[]any{"2024-01-01", "100"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	doc, err := NewLoader(nil).Load(buf.Bytes(), "", "loan.xlsx")
	require.NoError(t, err)

	require.Len(t, doc.Sheets, 2)
	assert.Equal(t, "Sheet1", doc.Sheets[0].Name)
	assert.Len(t, doc.Sheets[0].Rows, 2)
	assert.Contains(t, doc.Text, "Loan, FedLoan")

	sheet, ok := doc.Sheet("Payments")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"2024-01-01", "100"}}, sheet.Rows)
}

func TestLoader_Errors(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.Load([]byte("data"), "", "notes.docx")
	assert.ErrorIs(t, err, ErrUnsupportedExtension)

	_, err = loader.Load(nil, "", "empty.csv")
	assert.ErrorIs(t, err, plugin.ErrStructureNotFound)

	_, err = loader.Load([]byte("not a zip"), "", "bad.xlsx")
	assert.ErrorIs(t, err, plugin.ErrStructureNotFound)
}

func TestNormalizeExtension(t *testing.T) {
	tests := []struct{ hint, name, want string }{
		{"", "a.PDF", ".pdf"},
		{"xlsx", "a.bin", ".xlsx"},
		{".Csv", "", ".csv"},
		{"", "noext", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeExtension(tt.hint, tt.name))
	}
}
