// Package e2etest drives statements through the HTTP surface and the inbox
// sweep against an in-memory ledger.
package e2etest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/classifier"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/handler"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sweeper"
	"github.com/FACorreiaa/ledger-ingest/pkg/metrics"
	"github.com/FACorreiaa/ledger-ingest/pkg/storage"
)

const manifest = `protocol: 1
version: "2024.1"
adapters:
  Checking:
    family: csv
    company: Example Bank
    statement_type: Checking
    search_string: "254779&&example bank"
    config:
      account_pattern: 'Account Number:\s*(\d+)'
      date_column: Date
      description_column: Description
      amount_column: Amount
      balance_column: Balance
`

const marchCSV = `Example Bank Statement
Account Number: 254779
Date,Description,Amount,Balance
2024-03-01,COFFEE SHOP,-4.50,995.50
2024-03-05,GROCERY MART,-40.17,955.33
2024-03-09,REFUND,2.50,957.83
`

type scannedPDF struct{}

func (scannedPDF) ExtractPages([]byte) ([]string, error) {
	return []string{"Unknown Credit Union\nStatement"}, nil
}

type stack struct {
	ledger   *repository.MemoryLedger
	account  repository.Account
	pipeline *importservice.Pipeline
	router   http.Handler
	inbox    *storage.LocalStorage
	archive  *storage.LocalStorage
	sweeper  *sweeper.Sweeper
	metrics  *metrics.Metrics
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pluginDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(pluginDir, "banks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "banks", "example.yaml"), []byte(manifest), 0o644))

	ledger := repository.NewMemoryLedger()
	s := &stack{
		ledger:  ledger,
		account: ledger.AddAccount(repository.Account{Name: "Example Checking", Company: "Example Bank"}, "254779"),
		metrics: metrics.New(),
	}
	ledger.AddRule(repository.StatementTypeRule{
		Company:          "Example Bank",
		Description:      "Checking",
		Extension:        ".csv",
		SearchExpression: "254779&&example bank",
		Identifier:       "banks/example:Checking",
	})

	registry, err := plugin.NewRegistry(plugin.Config{
		Dir:      pluginDir,
		Families: parser.Families(),
		Builtins: parser.Builtins(),
	}, logger)
	require.NoError(t, err)

	rules, err := classifier.NewProvider(ctx, ledger, logger)
	require.NoError(t, err)

	s.pipeline = importservice.New(importservice.Config{}, importservice.Deps{
		Loader:      sniffer.NewLoader(scannedPDF{}),
		Rules:       rules,
		Registry:    registry,
		Ledger:      ledger,
		Categorizer: normalizer.NewCategorizer(nil, logger),
		Metrics:     s.metrics,
		Logger:      logger,
	})

	h := handler.NewImportHandler(s.pipeline, rules, registry, logger)
	s.router = handler.NewRouter(h, handler.RouterConfig{Metrics: s.metrics.Handler()}, logger)

	s.inbox, err = storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	s.archive, err = storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	s.sweeper = sweeper.New(s.pipeline, s.inbox, s.archive, sweeper.Config{}, s.metrics, logger)
	return s
}

func (s *stack) upload(t *testing.T, files map[string]string) handler.UploadResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/statements", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handler.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *stack) drop(t *testing.T, name, content string) {
	t.Helper()
	_, err := s.inbox.Upload(context.Background(), "", name, bytes.NewBufferString(content), nil)
	require.NoError(t, err)
}

func TestUploadThenSweep(t *testing.T) {
	s := newStack(t)

	resp := s.upload(t, map[string]string{"march.csv": marchCSV})
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "committed", resp.Files[0].Status)
	assert.Equal(t, 3, resp.Files[0].Result.NewTransactions)
	assert.Equal(t, "example-checking_20240301_20240309.csv", resp.Files[0].Result.ArchiveName)
	assert.Len(t, s.ledger.Transactions(s.account.ID), 3)

	s.drop(t, "march-again.csv", marchCSV)
	s.drop(t, "scan.pdf", "%PDF-1.4 scanned")
	s.drop(t, "notes.txt", "not a statement")

	report, err := s.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Failed)

	_, err = s.archive.GetInfo(context.Background(), sweeper.FolderDuplicates, "march-again.csv")
	assert.NoError(t, err)
	failed, err := s.archive.GetInfo(context.Background(), sweeper.FolderFailed, "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "no_match", failed.Labels["code"])

	left, err := s.inbox.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "notes.txt", left[0].Name)

	assert.Len(t, s.ledger.Statements(), 1)
	assert.Len(t, s.ledger.Transactions(s.account.ID), 3)
}

func TestSweepThenUpload(t *testing.T) {
	s := newStack(t)

	s.drop(t, "march.csv", marchCSV)
	report, err := s.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)

	_, err = s.archive.GetInfo(context.Background(), sweeper.FolderImported, "example-checking_20240301_20240309.csv")
	require.NoError(t, err)

	resp := s.upload(t, map[string]string{"march.csv": marchCSV})
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "already_imported", resp.Files[0].Status)
	assert.Equal(t, 3, resp.Files[0].Result.DuplicateTransactions)
	assert.Equal(t, 1, resp.Duplicate)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inbox_files_total")
}
